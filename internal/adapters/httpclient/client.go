// Package httpclient is the JSON-over-HTTP client shared by every REST adapter:
// per-host rate limiting, exponential backoff with jitter, and no blind retries
// for calls that mutate remote state.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryWait  = 500 * time.Millisecond
	maxBodyInError    = 512
)

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	Timeout       time.Duration
	RatePerSec    float64 // 0 = unlimited
	Burst         int
	MaxRetries    int
	BaseRetryWait time.Duration
	Headers       map[string]string
}

// StatusError is returned for non-retried 4xx answers.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client is an HTTP JSON client with rate limiting and retries.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	maxRetries int
	retryWait  time.Duration
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseRetryWait <= 0 {
		opts.BaseRetryWait = defaultRetryWait
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, opts.Burst),
		headers:    opts.Headers,
		maxRetries: opts.MaxRetries,
		retryWait:  opts.BaseRetryWait,
	}
}

// GetJSON does a GET with rate limiting and retries and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.Do(ctx, http.MethodGet, url, nil, out, true)
}

// PostJSON sends body as JSON. With retry=false only 429 answers are retried,
// since the server did not act on them.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any, retry bool) error {
	return c.Do(ctx, http.MethodPost, url, body, out, retry)
}

// Do performs the request. out may be nil when the body is not needed.
func (c *Client) Do(ctx context.Context, method, url string, body, out any, retry bool) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.send(ctx, method, url, payload)
		if err != nil {
			if !retry || attempt == c.maxRetries || ctx.Err() != nil {
				return fmt.Errorf("%s %s failed after %d attempts: %w", method, url, attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by API", "url", url, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if !retry || attempt == c.maxRetries {
				return fmt.Errorf("server error %d from %s %s", resp.StatusCode, method, url)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyInError))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: string(b)}
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries for %s %s", c.maxRetries, method, url)
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return c.http.Do(req)
}

// sleep waits with exponential backoff and jitter, honouring ctx.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	wait += time.Duration(rand.Int64N(int64(c.retryWait)/2 + 1))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
