package daur

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures transport-level retry behavior for wire calls.
// Rate-limited (HTTP 429) and failed-transport attempts are retried with a
// strictly doubling delay; the delay is not capped and carries no jitter.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	// Zero means exactly one attempt with no delay.
	MaxRetries int
	// InitialDelay is the wait before the first retry; it doubles per retry.
	InitialDelay time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:   3,
	InitialDelay: time.Second,
}

// APIError represents a non-2xx reply from a generation endpoint.
type APIError struct {
	StatusCode int
	Code       int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("generation endpoint error (status %d, code %d, %s): %s", e.StatusCode, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("generation endpoint error (status %d): %s", e.StatusCode, e.Message)
}

// wireErrorResponse is the error body shape of the generation endpoint.
type wireErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// fetcher issues JSON POST requests with backoff on rate limits and
// transport failures. Each postJSON call owns its retry counter and delay;
// nothing is shared between concurrent calls.
type fetcher struct {
	httpClient *http.Client
	retry      RetryConfig
	logger     *zap.Logger

	// sleep is swapped in tests to observe backoff delays.
	sleep func(time.Duration)
}

func newFetcher(cfg Config) *fetcher {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	retry := cfg.Retry
	if retry.InitialDelay == 0 {
		retry.InitialDelay = DefaultRetryConfig.InitialDelay
	}
	if retry.MaxRetries == 0 && cfg.Retry == (RetryConfig{}) {
		retry.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fetcher{
		httpClient: hc,
		retry:      retry,
		logger:     logger,
	}
}

// postJSON marshals in, POSTs it to url, and unmarshals the 2xx response
// body into out. HTTP 429 and transport errors are retried with doubling
// delay while retries remain; any other non-2xx status is terminal and
// surfaces as *APIError.
func (f *fetcher) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("daur: marshaling request: %w", err)
	}

	retriesLeft := f.retry.MaxRetries
	delay := f.retry.InitialDelay

	for {
		err := f.attempt(ctx, url, body, out)
		if err == nil {
			return nil
		}

		if !retriable(err) || retriesLeft == 0 {
			return err
		}

		f.logger.Debug("daur: retrying wire call",
			zap.Int("retries_left", retriesLeft),
			zap.Duration("delay", delay),
			zap.Error(err))

		if werr := f.wait(ctx, delay); werr != nil {
			return werr
		}
		retriesLeft--
		delay *= 2
	}
}

// attempt performs exactly one HTTP round trip.
func (f *fetcher) attempt(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daur: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseWireError(resp, respBody)
		f.logger.Debug("daur: wire call failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("daur: parsing response: %w", err)
	}
	return nil
}

// transportError marks a failure of the HTTP round trip itself (connection
// refused, timeout, body read failure). These are retriable.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("daur: request failed: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }

func retriable(err error) bool {
	if _, ok := err.(*transportError); ok {
		return true
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// parseWireError extracts the nested error message from a non-2xx body,
// falling back to the transport status text when the body is not JSON.
func parseWireError(resp *http.Response, body []byte) *APIError {
	var wire wireErrorResponse
	if err := json.Unmarshal(body, &wire); err != nil || wire.Error.Message == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       wire.Error.Code,
		Status:     wire.Error.Status,
		Message:    wire.Error.Message,
	}
}

func (f *fetcher) wait(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		// Keep the test hook aligned with the production path: a canceled
		// context stops the backoff before sleeping.
		if err := ctx.Err(); err != nil {
			return err
		}
		f.sleep(d)
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
