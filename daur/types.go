package daur

import "encoding/json"

// Provider identifies which backend to use. No auto-detection in this step.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
)

// TextMode selects orchestration/preset behavior for Text().
type TextMode int

const (
	// ModeBasic sends the input as-is to the provider and returns the assistant's text.
	ModeBasic TextMode = iota
	// ModeStructuredJSON requests a structured JSON response conforming to
	// ResponseSchema in a single call, without search grounding.
	ModeStructuredJSON
	// ModeGroundedJSON runs the two-step grounded retrieval: a search-grounded
	// free-text generation, then a schema-constrained re-parse of that text.
	// Grounding and schema-constrained output are mutually exclusive on the
	// generation endpoint, so callers needing both pay for two round trips.
	ModeGroundedJSON
)

// ProgressFunc receives one-way step notifications while a multi-step mode
// runs. step is 1-based; label is a short human-readable phase name. daur
// never waits on the callback.
type ProgressFunc func(step, total int, label string)

// TextRequest is the unified request for text-style generations.
type TextRequest struct {
	// Provider and Model must be set explicitly in this step.
	Provider Provider
	Model    string

	// Input and optional system instruction.
	Input  string
	System string

	// Mode selects orchestration behavior (see TextMode).
	Mode TextMode

	// Optional response shaping.
	Temperature     *float32
	MaxOutputTokens *int

	// Structured outputs (ModeStructuredJSON and ModeGroundedJSON).
	// Provide a JSON schema that defines the shape of the response object.
	ResponseSchema map[string]any

	// OnProgress, if set, is invoked before each step of a multi-step mode.
	OnProgress ProgressFunc

	// ValidateResult enables post-parse validation of the structured object
	// against ResponseSchema (required fields and primitive types). Off by
	// default: the serving API already enforces the schema.
	ValidateResult bool

	// Arbitrary per-call labels/metadata (carried provider-side if supported).
	Labels map[string]string
}

// TextResponse is a provider-agnostic result from Text().
type TextResponse struct {
	Provider Provider
	Model    string
	Mode     TextMode

	// Primary text content (if available). For ModeGroundedJSON this is the
	// re-parse step's raw JSON text.
	Text string

	// If the provider returned a structured object, JSON contains the parsed
	// object. Always set on a successful ModeGroundedJSON call.
	JSON map[string]any

	// GroundingSources lists the web URIs the model grounded on, when the
	// endpoint reported them.
	GroundingSources []string

	// Token usage, if available. Multi-step modes report the final step.
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// rawJSONSchema is a thin json.Marshaler wrapper to pass generic schemas
// into providers that take custom types implementing MarshalJSON.
type rawJSONSchema struct {
	m map[string]any
}

func (r rawJSONSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.m)
}
