package daur

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// countingHandler serves a fixed script of replies and records how many
// requests arrived.
type countingHandler struct {
	mu       sync.Mutex
	requests int
	script   []mockReply
}

type mockReply struct {
	status int
	body   string
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	idx := h.requests
	h.requests++
	h.mu.Unlock()

	reply := h.script[len(h.script)-1]
	if idx < len(h.script) {
		reply = h.script[idx]
	}
	w.WriteHeader(reply.status)
	_, _ = w.Write([]byte(reply.body))
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

func newTestFetcher(t *testing.T, ts *httptest.Server, retry RetryConfig) (*fetcher, *[]time.Duration) {
	t.Helper()
	f := newFetcher(Config{HTTPClient: ts.Client(), Retry: retry})
	var delays []time.Duration
	f.sleep = func(d time.Duration) { delays = append(delays, d) }
	return f, &delays
}

func TestFetcher_RateLimitedThenSuccess(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusTooManyRequests, body: `{"error":{"message":"quota exceeded"}}`},
		{status: http.StatusTooManyRequests, body: `{"error":{"message":"quota exceeded"}}`},
		{status: http.StatusOK, body: `{"value":"ok"}`},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, delays := newTestFetcher(t, ts, RetryConfig{MaxRetries: 3, InitialDelay: 10 * time.Millisecond})

	var out struct {
		Value string `json:"value"`
	}
	if err := f.postJSON(context.Background(), ts.URL, map[string]string{"q": "x"}, &out); err != nil {
		t.Fatalf("postJSON failed: %v", err)
	}
	if out.Value != "ok" {
		t.Fatalf("expected decoded body, got %+v", out)
	}
	if got := h.count(); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d backoff delays, got %v", len(want), *delays)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Fatalf("delay %d: expected %v, got %v", i, d, (*delays)[i])
		}
	}
}

func TestFetcher_DelayStrictlyDoubles(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, delays := newTestFetcher(t, ts, RetryConfig{MaxRetries: 4, InitialDelay: 5 * time.Millisecond})

	err := f.postJSON(context.Background(), ts.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := h.count(); got != 5 {
		t.Fatalf("expected 5 requests (1 + 4 retries), got %d", got)
	}
	want := []time.Duration{5, 10, 20, 40}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), *delays)
	}
	for i, w := range want {
		if (*delays)[i] != w*time.Millisecond {
			t.Fatalf("delay %d: expected %v, got %v", i, w*time.Millisecond, (*delays)[i])
		}
	}
}

func TestFetcher_ZeroRetries_SingleAttempt(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusTooManyRequests, body: `{"error":{"message":"quota exceeded"}}`},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, delays := newTestFetcher(t, ts, RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond})

	err := f.postJSON(context.Background(), ts.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error on rate limit with zero retries")
	}
	if got := h.count(); got != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", got)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no backoff delay, got %v", *delays)
	}
}

func TestFetcher_NonRetriableStatus_IsTerminal(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusBadRequest, body: `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, delays := newTestFetcher(t, ts, RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond})

	err := f.postJSON(context.Background(), ts.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "API key not valid" {
		t.Fatalf("expected nested error message, got %q", apiErr.Message)
	}
	if got := h.count(); got != 1 {
		t.Fatalf("non-429 errors must not be retried; got %d requests", got)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no backoff delay, got %v", *delays)
	}
}

func TestFetcher_NonJSONErrorBody_FallsBackToStatusText(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusInternalServerError, body: "<html>upstream exploded</html>"},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, _ := newTestFetcher(t, ts, RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond})

	err := f.postJSON(context.Background(), ts.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Message != http.StatusText(http.StatusInternalServerError) {
		t.Fatalf("expected status text fallback, got %q", apiErr.Message)
	}
}

func TestFetcher_TransportErrorRetried(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	client := ts.Client()
	url := ts.URL
	ts.Close() // every attempt now fails at the transport level

	f := newFetcher(Config{HTTPClient: client, Retry: RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond}})
	var delays []time.Duration
	f.sleep = func(d time.Duration) { delays = append(delays, d) }

	err := f.postJSON(context.Background(), url, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if _, ok := err.(*transportError); !ok {
		t.Fatalf("expected *transportError, got %T: %v", err, err)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff delays before giving up, got %v", delays)
	}
}

func TestFetcher_CanceledContextStopsBackoff(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusTooManyRequests, body: `{"error":{"message":"quota exceeded"}}`},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, delays := newTestFetcher(t, ts, RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.postJSON(ctx, ts.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error with canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled to surface, got %v", err)
	}
	if len(*delays) != 0 {
		t.Fatalf("backoff must stop without sleeping once the context is canceled, got %v", *delays)
	}
}

func TestFetcher_RetriesExhausted_PropagatesLastError(t *testing.T) {
	h := &countingHandler{script: []mockReply{
		{status: http.StatusTooManyRequests, body: `{"error":{"message":"quota exceeded"}}`},
	}}
	ts := httptest.NewServer(h)
	defer ts.Close()

	f, _ := newTestFetcher(t, ts, RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond})

	err := f.postJSON(context.Background(), ts.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected last 429 to propagate, got status %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "quota exceeded") {
		t.Fatalf("expected nested message in propagated error, got %q", apiErr.Message)
	}
	if got := h.count(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}
