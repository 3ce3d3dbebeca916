package photos

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// FetcherConfig controls the photo download collector.
type FetcherConfig struct {
	UserAgent string
	ProxyURL  string
	Timeout   time.Duration
}

// CollyFetcher downloads photo bytes through a colly collector, which gives
// us transport pooling, UA override, and proxy routing via the shared
// egress handle.
type CollyFetcher struct {
	base *colly.Collector
}

// NewCollyFetcher builds a CollyFetcher.
func NewCollyFetcher(cfg FetcherConfig) (*CollyFetcher, error) {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set photo fetch proxy: %w", err)
		}
	}
	return &CollyFetcher{base: c}, nil
}

// Fetch performs a single GET and returns the body and content type. A
// network error or non-2xx response yields an error; callers treat it as a
// per-photo failure.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("photo fetch canceled: %w", err)
	}

	collector := f.base.Clone()

	var (
		body        []byte
		contentType string
		statusCode  int
		fetchErr    error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
		contentType = r.Headers.Get("Content-Type")
		statusCode = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	if err := collector.Visit(url); err != nil {
		return nil, "", fmt.Errorf("visit photo url: %w", err)
	}
	if fetchErr != nil {
		return nil, "", fmt.Errorf("photo response (status %d): %w", statusCode, fetchErr)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, "", fmt.Errorf("photo response status %d", statusCode)
	}
	return body, contentType, nil
}
