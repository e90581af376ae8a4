// Package serp implements crawl.Fetcher against a search results page using
// the Colly collector.
package serp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
)

// Config controls collector behavior.
type Config struct {
	// BaseURL is the search endpoint, e.g. "https://www.google.com/search".
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

const (
	defaultBaseURL = "https://www.google.com/search"
	defaultTimeout = 15 * time.Second
)

// Fetcher implements crawl.Fetcher using the Colly collector. Each Fetch
// issues exactly one outbound request; pacing between requests belongs to
// the caller's rate controller.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single search request for keyword and parses the organic
// listings out of the response body.
func (f *Fetcher) Fetch(ctx context.Context, keyword string, maxResults int) ([]crawl.RawListing, error) {
	searchURL, err := f.searchURL(keyword, maxResults)
	if err != nil {
		return nil, err
	}

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.visit(ctx, collector, searchURL); err != nil {
		return nil, &crawl.FetchError{Keyword: keyword, StatusCode: statusCode, Err: err}
	}
	if fetchErr != nil {
		return nil, &crawl.FetchError{Keyword: keyword, StatusCode: statusCode, Err: fetchErr}
	}

	listings, err := ParseListings(bytes.NewReader(body), maxResults)
	if err != nil {
		return nil, &crawl.FetchError{Keyword: keyword, StatusCode: statusCode, Err: err}
	}
	return listings, nil
}

func (f *Fetcher) searchURL(keyword string, maxResults int) (string, error) {
	base, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse search base url: %w", err)
	}
	query := base.Query()
	query.Set("q", keyword)
	if maxResults > 0 {
		query.Set("num", strconv.Itoa(maxResults))
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, searchURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(searchURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("search fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("search visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
