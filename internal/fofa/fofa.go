// Package fofa is a small client for the FOFA asset search API.
package fofa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// MinPageSize and MaxPageSize bound the per-page result count
	// accepted by the API.
	MinPageSize = 1
	MaxPageSize = 2000

	defaultBaseURL = "https://fofa.info/api/v1"
	searchPath     = "/search/all"

	defaultRetries    = 3
	defaultRate       = 2 // requests per second
	pageFetchParallel = 4
)

// APIError is an error reported by the API itself, as opposed to a
// transport failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fofa api: status %d: %s", e.StatusCode, e.Message)
	}
	return "fofa api: " + e.Message
}

// Result is one row of a search response, keyed by the requested
// field names.
type Result map[string]string

func (r Result) Get(field string) string { return r[field] }

// Client queries the search API. Requests are paced by a rate limiter
// and transient failures are retried with exponential backoff.
type Client struct {
	email string
	key   string

	baseURL       string
	hc            *http.Client
	limiter       *rate.Limiter
	retries       uint64
	retryInterval time.Duration
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithRequestRate sets the request pacing in requests per second.
func WithRequestRate(perSecond float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// WithRetryInterval sets the initial backoff interval. Used by tests.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.retryInterval = d }
}

func New(email, key string, opts ...Option) (*Client, error) {
	if email == "" || key == "" {
		return nil, errors.New("fofa email and key must be provided")
	}
	c := &Client{
		email:         email,
		key:           key,
		baseURL:       defaultBaseURL,
		hc:            &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(defaultRate, 1),
		retries:       defaultRetries,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EncodeQuery base64-encodes a search expression the way the API
// expects it in the qbase64 parameter.
func EncodeQuery(expression string) (string, error) {
	if expression == "" {
		return "", errors.New("search expression cannot be empty")
	}
	return base64.StdEncoding.EncodeToString([]byte(expression)), nil
}

// ClampPageSize forces size into [MinPageSize, MaxPageSize].
func ClampPageSize(size int) int {
	return min(max(size, MinPageSize), MaxPageSize)
}

type searchResponse struct {
	Error      bool     `json:"error"`
	Errmsg     string   `json:"errmsg"`
	Results    []any    `json:"results"`
	QueryField []string `json:"queryfield"`
}

// Search runs one query page and returns the normalized rows.
func (c *Client) Search(ctx context.Context, expression string, page, size int, fields []string) ([]Result, error) {
	qbase64, err := EncodeQuery(expression)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("email", c.email)
	params.Set("key", c.key)
	params.Set("qbase64", qbase64)
	params.Set("page", strconv.Itoa(max(page, 1)))
	params.Set("size", strconv.Itoa(ClampPageSize(size)))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	requestURL := c.baseURL + searchPath + "?" + params.Encode()

	var payload searchResponse
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err // transport errors are retried
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 500:
			return &APIError{StatusCode: resp.StatusCode, Message: "server error"}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: "request rejected"})
		}

		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid json from fofa api: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx)); err != nil {
		return nil, err
	}

	if payload.Error {
		msg := payload.Errmsg
		if msg == "" {
			msg = "unknown fofa error"
		}
		return nil, &APIError{Message: msg}
	}
	return parseResults(payload, fields), nil
}

// SearchPages fetches pages 1..pages concurrently and returns the rows
// in page order.
func (c *Client) SearchPages(ctx context.Context, expression string, pages, size int, fields []string) ([]Result, error) {
	if pages < 1 {
		pages = 1
	}
	perPage := make([][]Result, pages)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pageFetchParallel)
	for i := range pages {
		g.Go(func() error {
			rows, err := c.Search(ctx, expression, i+1, size, fields)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			perPage[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Result
	for _, rows := range perPage {
		out = append(out, rows...)
	}
	return out, nil
}

// Validate performs a minimal probe query to check the credentials.
func (c *Client) Validate(ctx context.Context) bool {
	_, err := c.Search(ctx, `app="nginx"`, 1, 1, []string{"host"})
	return err == nil
}

func parseResults(payload searchResponse, fields []string) []Result {
	fieldList := fields
	if len(fieldList) == 0 {
		fieldList = payload.QueryField
	}

	name := func(idx int) string {
		if idx < len(fieldList) {
			return fieldList[idx]
		}
		return strconv.Itoa(idx)
	}

	results := make([]Result, 0, len(payload.Results))
	for _, raw := range payload.Results {
		row := make(Result)
		switch v := raw.(type) {
		case string:
			// single-field queries return plain strings
			row[name(0)] = v
		case []any:
			for idx, value := range v {
				row[name(idx)] = fmt.Sprint(value)
			}
		default:
			continue
		}
		results = append(results, row)
	}
	return results
}

// ExtractHosts pulls the host column out of results, falling back to
// ip. Rows with neither are skipped.
func ExtractHosts(results []Result) []string {
	hosts := make([]string, 0, len(results))
	for _, r := range results {
		host := r.Get("host")
		if host == "" {
			host = r.Get("ip")
		}
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}
