// Package fetch implements the resilient HTTP client used by every
// ingestion job: one GET per page with a fixed identity header set,
// exponential backoff on transient failure, and compliance with
// server-directed slow-down responses.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/codigosgratis/wikisync/internal/metrics"
)

// Config controls client identity and retry behavior.
type Config struct {
	UserAgent string
	// Headers is the fixed identity set applied to every request. Its
	// contents are opaque to the client.
	Headers map[string]string
	Timeout time.Duration
	// MaxRetries caps transient-failure retries; rate-limit waits do
	// not count against it.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RetryAfterFallback is slept when a slow-down response names no
	// parseable wait.
	RetryAfterFallback time.Duration
}

// Response is the outcome of a completed GET. A 404 is returned as a
// Response, not an error: "page does not exist" is a terminal,
// non-error outcome for a crawl target.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// NotFound reports whether the server definitively said the page does
// not exist.
func (r Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// Client issues resilient GETs through a colly collector.
type Client struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger

	// sleep is replaced in tests to observe wait sequencing.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client. Zero config values fall back to defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.RetryAfterFallback <= 0 {
		cfg.RetryAfterFallback = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector()
	base.Async = false
	base.IgnoreRobotsTxt = true
	base.AllowURLRevisit = true

	c := &Client{cfg: cfg, base: base, logger: logger}
	c.sleep = c.sleepCtx
	return c
}

// Get fetches url, retrying transient failures with exponential
// backoff and honoring server-directed waits. The two delay mechanisms
// never compound: a rate-limited attempt is replayed after the server's
// wait without consuming a retry.
func (c *Client) Get(ctx context.Context, url string) (Response, error) {
	retries := 0
	for {
		resp, headers, err := c.doOnce(ctx, url)
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", url, ctx.Err())
		}

		if err == nil {
			metrics.ObserveFetch("ok")
			return resp, nil
		}

		if resp.NotFound() {
			metrics.ObserveFetch("not_found")
			return resp, nil
		}

		if wait, limited := slowDownWait(resp.StatusCode, headers, c.cfg.RetryAfterFallback); limited {
			metrics.ObserveFetch("rate_limited")
			c.logger.Warn("server requested slow-down",
				zap.String("url", url),
				zap.Int("status", resp.StatusCode),
				zap.Duration("wait", wait),
			)
			if serr := c.sleep(ctx, wait); serr != nil {
				return Response{}, fmt.Errorf("fetch %s: %w", url, serr)
			}
			continue
		}

		if retries >= c.cfg.MaxRetries {
			metrics.ObserveFetch("error")
			return Response{}, fmt.Errorf("fetch %s after %d attempts: %w", url, retries+1, err)
		}

		wait := c.backoff(retries)
		retries++
		metrics.ObserveFetch("retry")
		c.logger.Debug("transient fetch failure, backing off",
			zap.String("url", url),
			zap.Int("retry", retries),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if serr := c.sleep(ctx, wait); serr != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", url, serr)
		}
	}
}

// backoff returns base * 2^retries, capped.
func (c *Client) backoff(retries int) time.Duration {
	wait := c.cfg.BackoffBase
	for i := 0; i < retries; i++ {
		wait *= 2
		if wait >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	if wait > c.cfg.BackoffMax {
		wait = c.cfg.BackoffMax
	}
	return wait
}

// doOnce performs a single GET attempt through a cloned collector.
func (c *Client) doOnce(ctx context.Context, url string) (Response, http.Header, error) {
	collector := c.base.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	var (
		resp    Response
		headers http.Header
		cbErr   error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range c.cfg.Headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		resp = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		cbErr = err
		if r == nil {
			return
		}
		resp.StatusCode = r.StatusCode
		resp.Duration = time.Since(start)
		if r.Request != nil && r.Request.URL != nil {
			resp.URL = r.Request.URL.String()
		}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Response{}, nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if cbErr != nil {
			return resp, headers, fmt.Errorf("visit %s: %w", url, cbErr)
		}
		if err != nil {
			return resp, headers, fmt.Errorf("visit %s: %w", url, err)
		}
		return resp, headers, nil
	}
}

// slowDownWait detects a server-directed slow-down: HTTP 429, or a 503
// that names a wait via Retry-After.
func slowDownWait(status int, headers http.Header, fallback time.Duration) (time.Duration, bool) {
	retryAfter, named := parseRetryAfter(headers)
	switch {
	case status == http.StatusTooManyRequests:
		if named {
			return retryAfter, true
		}
		return fallback, true
	case status == http.StatusServiceUnavailable && named:
		return retryAfter, true
	default:
		return 0, false
	}
}

// parseRetryAfter reads a Retry-After duration in seconds.
func parseRetryAfter(headers http.Header) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func (c *Client) sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
