package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/waverly/waverly/internal/export"
	"github.com/waverly/waverly/internal/fofa"
	"github.com/waverly/waverly/internal/model"

	"github.com/spf13/cobra"
)

var (
	flagSearchPages  int
	flagSearchSize   int
	flagSearchFields []string
	flagSearchHosts  bool
	flagSearchOutput string
)

func init() {
	searchCmd.Flags().IntVar(&flagSearchPages, "pages", 1, "number of result pages to fetch")
	searchCmd.Flags().IntVar(&flagSearchSize, "size", 0, "results per page (overrides config)")
	searchCmd.Flags().StringSliceVar(&flagSearchFields, "fields", nil, "result fields to request (overrides config)")
	searchCmd.Flags().BoolVar(&flagSearchHosts, "hosts", false, "print deduplicated hosts only")
	searchCmd.Flags().StringVarP(&flagSearchOutput, "output", "o", "", "write results to an xlsx file")
}

var searchCmd = &cobra.Command{
	Use:   "search expression",
	Short: "Query the FOFA asset search API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doSearch(cmd.Context(), args[0])
	},
}

func doSearch(ctx context.Context, expression string) error {
	if config.Fofa == nil || config.Fofa.Email == "" || config.Fofa.Key == "" {
		return errors.New("fofa credentials missing, set fofa.email and fofa.key in the config or WAVERLY_FOFA_EMAIL and WAVERLY_FOFA_KEY")
	}

	client, err := fofa.New(config.Fofa.Email, config.Fofa.Key, fofa.WithHTTPClient(searchHTTPClient()))
	if err != nil {
		return err
	}

	size := config.Fofa.QuerySize
	if flagSearchSize > 0 {
		size = flagSearchSize
	}
	fields := config.Fofa.Fields
	if len(flagSearchFields) > 0 {
		fields = flagSearchFields
	}
	if len(fields) == 0 {
		fields = model.DefaultFofaFields()
	}

	results, err := client.SearchPages(ctx, expression, flagSearchPages, size, fields)
	if err != nil {
		return fmt.Errorf("searching fofa: %w", err)
	}
	slog.Info("search finished", "expression", expression, "results", len(results))

	if flagSearchHosts {
		for _, host := range fofa.ExtractHosts(results) {
			fmt.Println(host)
		}
	} else {
		for _, result := range results {
			row := make([]string, 0, len(fields))
			for _, field := range fields {
				row = append(row, result.Get(field))
			}
			fmt.Println(strings.Join(row, "\t"))
		}
	}

	if flagSearchOutput != "" {
		rows := make([][]string, 0, len(results))
		for _, result := range results {
			row := make([]string, 0, len(fields))
			for _, field := range fields {
				row = append(row, result.Get(field))
			}
			rows = append(rows, row)
		}
		if err := export.Table(fields, rows, flagSearchOutput); err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
		slog.Info("results exported", "path", flagSearchOutput)
	}
	return nil
}

// searchHTTPClient honors the proxy section of the configuration. Socks5
// proxies are passed through the standard proxy URL mechanism as well.
func searchHTTPClient() *http.Client {
	if config.Proxy == nil {
		return http.DefaultClient
	}
	raw := config.Proxy.HTTPS
	if raw == "" {
		raw = config.Proxy.HTTP
	}
	if raw == "" {
		raw = config.Proxy.Socks5
	}
	if raw == "" {
		return http.DefaultClient
	}
	proxyURL, err := url.Parse(raw)
	if err != nil {
		slog.Warn("ignoring invalid proxy URL", "url", raw, "err", err)
		return http.DefaultClient
	}
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
}
