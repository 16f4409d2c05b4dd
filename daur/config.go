package daur

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config contains client-wide configuration.
// In this step we require explicit provider selection at call-time (TextRequest.Provider).
// Config holds secrets and HTTP knobs.
type Config struct {

	// Default model per provider if not set per-call.
	DefaultModelOpenAI string
	DefaultModelGoogle string

	// OpenAI configuration.
	OpenAIAPIKey  string // falls back to env OPENAI_API_KEY if empty and DetectEnv is true
	OpenAIBaseURL string // optional; supports custom or Azure endpoint

	// Google/Gemini configuration. The key is passed to the generation
	// endpoint as a URL query parameter per the REST API contract.
	GoogleAPIKey  string // falls back to env GOOGLE_API_KEY if empty and DetectEnv is true
	GoogleBaseURL string // optional custom endpoint; defaults to the public generativelanguage host

	// Retry governs the transport-level backoff applied to Google wire calls.
	// Zero value falls back to DefaultRetryConfig.
	Retry RetryConfig

	// Result caching (off unless CacheTTL > 0). Cached entries are keyed by
	// provider, model, mode, input and schema.
	CacheTTL     time.Duration
	CacheMaxSize int

	// Shared client options.
	HTTPClient *http.Client
	Timeout    time.Duration // applied to the HTTP client for both providers when possible

	// Logger receives diagnostic records (retry attempts, error bodies).
	// Nil disables logging.
	Logger *zap.Logger

	// Auto-detection.
	DetectEnv bool // when true, pull missing values from environment
}
