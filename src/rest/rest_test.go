package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Options{
		Token:      "test-token",
		BaseURL:    server.URL,
		MaxRetries: 2,
	})
	return client, server
}

func TestDoSuccess(t *testing.T) {
	t.Parallel()
	var gotAuth, gotAgent string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set(headerLimit, "5")
		w.Header().Set(headerRemaining, "4")
		w.Header().Set(headerResetAfter, "1")
		w.Write([]byte(`{"id":"123"}`))
	})

	resp, err := client.Get(context.Background(), "/users/@me", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Bot test-token", gotAuth)
	assert.Contains(t, gotAgent, "DiscordBot")

	var decoded struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.JSON(&decoded))
	assert.Equal(t, "123", decoded.ID)
}

func TestThrottledRequestRetriesAfterAdvertisedDelay(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var bodies []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if calls.Add(1) == 1 {
			w.Header().Set(headerRetryAfter, "0.3")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"message":     "You are being rate limited.",
				"retry_after": 0.3,
				"global":      false,
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	start := time.Now()
	body := []byte(`{"content":"hello"}`)
	resp, err := client.Post(context.Background(), "/channels/111111111111111111/messages", body, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.EqualValues(t, 2, calls.Load(), "exactly one retry")
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond,
		"the retry must wait out retry_after")
	assert.Equal(t, bodies[0], bodies[1], "the body is replayed verbatim")
}

func TestThrottlingPastBudgetFails(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set(headerRetryAfter, "0.05")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.05}`))
	})

	_, err := client.Get(context.Background(), "/users/@me", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.EqualValues(t, 3, calls.Load(), "initial attempt plus MaxRetries")
}

func TestClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":50001,"message":"Missing Access"}`))
	})

	_, err := client.Get(context.Background(), "/channels/111111111111111111", nil)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, 50001, apiErr.Code)
	assert.Equal(t, "Missing Access", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestServerErrorRetriesThenFails(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client := NewClient(Options{Token: "t", BaseURL: server.URL, MaxRetries: 1})

	_, err := client.Get(context.Background(), "/users/@me", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerFailure)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExhaustedBucketDelaysNextCall(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerLimit, "1")
		w.Header().Set(headerRemaining, "0")
		w.Header().Set(headerResetAfter, "0.3")
		w.Write([]byte(`{}`))
	})

	ctx := context.Background()
	_, err := client.Get(ctx, "/channels/111111111111111111", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Get(ctx, "/channels/111111111111111111", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestGetGatewayBot(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gateway/bot", r.URL.Path)
		w.Write([]byte(`{
			"url": "wss://gateway.example.gg",
			"shards": 2,
			"session_start_limit": {"total": 1000, "remaining": 999, "reset_after": 14400000, "max_concurrency": 1}
		}`))
	})

	gw, err := client.GetGatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example.gg", gw.URL)
	assert.Equal(t, 2, gw.Shards)
	assert.Equal(t, 1, gw.SessionStartLimit.MaxConcurrency)
}
