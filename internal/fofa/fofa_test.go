package fofa_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waverly/waverly/internal/fofa"

	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, serverURL string) *fofa.Client {
	t.Helper()
	c, err := fofa.New("user@example.com", "secret",
		fofa.WithBaseURL(serverURL),
		fofa.WithRequestRate(1000),
		fofa.WithRetryInterval(time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, err := fofa.New("", "key")
	require.Error(t, err)
	_, err = fofa.New("email", "")
	require.Error(t, err)
	_, err = fofa.New("email", "key")
	require.NoError(t, err)
}

func TestEncodeQuery(t *testing.T) {
	t.Parallel()
	encoded, err := fofa.EncodeQuery(`app="nginx"`)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.Equal(t, `app="nginx"`, string(decoded))

	_, err = fofa.EncodeQuery("")
	require.Error(t, err)
}

func TestClampPageSize(t *testing.T) {
	t.Parallel()
	require.Equal(t, fofa.MinPageSize, fofa.ClampPageSize(0))
	require.Equal(t, fofa.MinPageSize, fofa.ClampPageSize(-5))
	require.Equal(t, 100, fofa.ClampPageSize(100))
	require.Equal(t, fofa.MaxPageSize, fofa.ClampPageSize(999999))
}

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "user@example.com", q.Get("email"))
		require.Equal(t, "secret", q.Get("key"))
		require.Equal(t, "1", q.Get("page"))
		require.Equal(t, "2000", q.Get("size")) // clamped from oversize
		require.NotEmpty(t, q.Get("qbase64"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": false,
			"results": []any{
				[]any{"one.example.com", "1.1.1.1", 443},
				[]any{"", "2.2.2.2", 80},
			},
			"queryfield": []string{"host", "ip", "port"},
		})
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	rows, err := c.Search(t.Context(), `app="nginx"`, 1, 100000, []string{"host", "ip", "port"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "one.example.com", rows[0].Get("host"))
	require.Equal(t, "443", rows[0].Get("port"))

	hosts := fofa.ExtractHosts(rows)
	require.Equal(t, []string{"one.example.com", "2.2.2.2"}, hosts)
}

func TestSearchSingleField(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":      false,
			"results":    []any{"one.example.com", "two.example.com"},
			"queryfield": []string{"host"},
		})
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	rows, err := c.Search(t.Context(), `domain="example.com"`, 1, 10, []string{"host"})
	require.NoError(t, err)
	require.Equal(t, []string{"one.example.com", "two.example.com"}, fofa.ExtractHosts(rows))
}

func TestSearchAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  true,
			"errmsg": "[-700] Account Invalid",
		})
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	_, err := c.Search(t.Context(), `app="nginx"`, 1, 10, nil)
	require.Error(t, err)
	var apiErr *fofa.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Contains(t, apiErr.Message, "Account Invalid")

	require.False(t, c.Validate(t.Context()))
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":      false,
			"results":    []any{"one.example.com"},
			"queryfield": []string{"host"},
		})
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	rows, err := c.Search(t.Context(), `app="nginx"`, 1, 10, []string{"host"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), calls.Load())
}

func TestSearchClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	_, err := c.Search(t.Context(), `app="nginx"`, 1, 10, nil)
	require.Error(t, err)
	var apiErr *fofa.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, int64(1), calls.Load())
}

func TestSearchPages(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":      false,
			"results":    []any{"host-" + page},
			"queryfield": []string{"host"},
		})
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	rows, err := c.SearchPages(t.Context(), `app="nginx"`, 3, 10, []string{"host"})
	require.NoError(t, err)
	// page order preserved regardless of fetch order
	require.Equal(t, []string{"host-1", "host-2", "host-3"}, fofa.ExtractHosts(rows))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":      false,
			"results":    []any{"one.example.com"},
			"queryfield": []string{"host"},
		})
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL)
	require.True(t, c.Validate(t.Context()))
}
