// Copyright 2025-2026 Roberto Szek

// Package httpx wraps net/http with the rate-limit handling both API clients
// share: proactive pacing through a token bucket and reactive sleep-and-retry
// on HTTP 429 driven by the server's quota headers.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// resetSafetyMargin absorbs clock skew between us and the server when
// sleeping until a quota window resets.
const resetSafetyMargin = 2 * time.Second

// StatusError is returned for any non-2xx, non-429 response. 4xx/5xx are
// never swallowed; callers decide what is fatal.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Response is the subset of an HTTP response the pipeline consumes. The body
// is fully read and the connection released before Do returns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues requests with 429-aware backoff. All waiting blocks the
// calling goroutine; callers are single-flow per account, so that is fine.
type Client struct {
	hc      *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithLimiter adds proactive pacing: every attempt waits for a token before
// hitting the network.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a rate-limit-aware client.
func NewClient(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		hc:    &http.Client{Timeout: 30 * time.Second},
		log:   log.With().Str("component", "http").Logger(),
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do performs one request. params are appended to the URL query. body may be
// nil; it is kept as a byte slice so 429 retries can resend it verbatim.
//
// On 429 the server's x-rate-limit-* headers decide the sleep: when the
// remaining quota is exhausted we block until the advertised reset time plus
// a safety margin, then retry the identical request. Retrying recurses, so a
// server that keeps answering 429 keeps us waiting; anything else ends the
// loop. Every other non-2xx status is surfaced as a *StatusError.
func (c *Client) Do(ctx context.Context, method, rawURL string, params url.Values, body []byte, header http.Header) (*Response, error) {
	if len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid request URL %q: %w", rawURL, err)
		}
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}
	return c.do(ctx, method, rawURL, body, header)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, rawURL, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", rawURL, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if err := c.waitForReset(ctx, resp.Header); err != nil {
			return nil, err
		}
		return c.do(ctx, method, rawURL, body, header)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// waitForReset sleeps out a 429 according to the quota headers. A 429 with
// quota still remaining gets no sleep beyond the safety margin.
func (c *Client) waitForReset(ctx context.Context, h http.Header) error {
	remaining := h.Get("x-rate-limit-remaining")
	limit := h.Get("x-rate-limit-limit")
	reset := h.Get("x-rate-limit-reset")

	delay := resetSafetyMargin
	if remaining == "0" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if until := time.Unix(epoch, 0).Sub(c.now()); until > 0 {
				delay = until + resetSafetyMargin
			}
		}
	}
	c.log.Warn().
		Str("remaining", remaining).
		Str("limit", limit).
		Str("reset", reset).
		Dur("sleep", delay).
		Msg("Rate limited, sleeping until quota reset")
	return c.sleep(ctx, delay)
}
