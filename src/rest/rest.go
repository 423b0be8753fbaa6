package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"
	defaultTimeout = 15 * time.Second
	defaultRetries = 3
	userAgent      = "DiscordBot (https://github.com/ternlib/tern, 0.1.0)"
)

var (
	// ErrRateLimitExceeded is returned once the retry budget for a
	// throttled request is spent. Other in-flight requests are
	// unaffected.
	ErrRateLimitExceeded = errors.New("rest: rate limit retry budget exhausted")
	// ErrServerFailure is returned when the API keeps answering
	// 5xx past the retry budget.
	ErrServerFailure = errors.New("rest: upstream kept failing")
)

// APIError is a non-throttling 4xx response, carrying the platform's
// error payload. Never retried.
type APIError struct {
	Status  int
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error (http %d, code %d): %s", e.Status, e.Code, e.Message)
}

// Response is a terminal REST result. Body is the raw payload; callers
// decode their own domain objects from it.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

type RequestOptions struct {
	Headers map[string]string
	// Reason fills the X-Audit-Log-Reason header.
	Reason string
}

type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxRetries bounds re-attempts after 429 and 5xx responses.
	MaxRetries int
	Logger     *slog.Logger
}

// Client sends rate-limit-aware requests to the REST API. Every call
// passes the bucket gate before hitting the network and feeds response
// headers back into the limiter.
type Client struct {
	httpClient *http.Client
	limiter    *RateLimiter
	baseURL    string
	token      string
	maxRetries int
	log        *slog.Logger
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		limiter:    NewRateLimiter(opts.Logger),
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		token:      opts.Token,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
	}
}

// RateLimiter exposes the limiter, mostly for tests and metrics.
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body []byte, options *RequestOptions) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	// Mandatory headers.
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}
	if options != nil {
		if options.Reason != "" {
			req.Header.Set("X-Audit-Log-Reason", options.Reason)
		}
		for k, v := range options.Headers {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// Do resolves the request's bucket, waits for quota and performs the
// call. 429s are retried after the advertised delay, 5xx with jittered
// backoff, both within the retry budget; other 4xx fail immediately
// with the decoded platform error. The body bytes are replayed
// verbatim on every attempt.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, options *RequestOptions) (*Response, error) {
	bucketKey := BucketKey(method, path)
	reqID := uuid.NewString()
	log := c.log.With("request_id", reqID, "method", method, "bucket", bucketKey)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		bucket, err := c.limiter.Acquire(ctx, bucketKey)
		if err != nil {
			return nil, err
		}
		req, err := c.makeRequest(ctx, method, path, body, options)
		if err != nil {
			c.limiter.Cancel(bucket)
			return nil, err
		}
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			c.limiter.Cancel(bucket)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Warn("transport failure, retrying", "attempt", attempt, "error", err)
			if err := sleep(ctx, retryBackoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}
		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			c.limiter.Cancel(bucket)
			lastErr = err
			continue
		}
		c.limiter.Release(bucket, httpResp.Header)

		switch {
		case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
			return &Response{
				Status: httpResp.StatusCode,
				Header: httpResp.Header,
				Body:   respBody,
			}, nil
		case httpResp.StatusCode == http.StatusTooManyRequests:
			retryAfter := retryAfterOf(httpResp.Header, respBody)
			log.Warn("rate limited", "attempt", attempt, "retry_after", retryAfter)
			lastErr = ErrRateLimitExceeded
			// The limiter schedules the wake-up; the next
			// Acquire blocks until the bucket resets.
		case httpResp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: http %d", ErrServerFailure, httpResp.StatusCode)
			log.Warn("server error, retrying", "attempt", attempt, "status", httpResp.StatusCode)
			if err := sleep(ctx, retryBackoff(attempt)); err != nil {
				return nil, err
			}
		default:
			apiErr := &APIError{Status: httpResp.StatusCode}
			if err := json.Unmarshal(respBody, apiErr); err != nil {
				apiErr.Message = strings.TrimSpace(string(respBody))
			}
			return nil, apiErr
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryBackoff is exponential from 1s with full jitter, capped at 30s.
func retryBackoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	max := time.Duration(1<<uint(attempt)) * time.Second
	if max > 30*time.Second {
		max = 30 * time.Second
	}
	return time.Duration(rand.Int63n(int64(max))) + 100*time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfterOf prefers the Retry-After header and falls back to the
// retry_after field of the 429 body.
func retryAfterOf(headers http.Header, body []byte) time.Duration {
	if v := headers.Get(headerRetryAfter); v != "" {
		if after, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(after * float64(time.Second))
		}
	}
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return 0
}

func (c *Client) Get(ctx context.Context, path string, options *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, options)
}

func (c *Client) Post(ctx context.Context, path string, body []byte, options *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, options)
}

func (c *Client) Put(ctx context.Context, path string, body []byte, options *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, options)
}

func (c *Client) Patch(ctx context.Context, path string, body []byte, options *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, options)
}

func (c *Client) Delete(ctx context.Context, path string, options *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, options)
}

// GatewayBot is a GET /gateway/bot response: the websocket URL plus
// the recommended shard count and identify budget.
type GatewayBot struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// GetGatewayBot discovers the gateway URL and sharding parameters for
// the current bot token.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	resp, err := c.Get(ctx, "/gateway/bot", nil)
	if err != nil {
		return nil, err
	}
	gw := new(GatewayBot)
	if err := resp.JSON(gw); err != nil {
		return nil, fmt.Errorf("malformed gateway/bot payload: %w", err)
	}
	return gw, nil
}
