package daur

import "context"

// providerClient is the internal interface each backend implements.
type providerClient interface {
	// Text executes a single-turn request according to the given call plan.
	Text(ctx context.Context, plan callPlan) (callResult, error)
}

// callPlan is a normalized, provider-agnostic instruction set produced by the
// high-level Text() method based on TextRequest and Mode orchestration.
type callPlan struct {
	Provider Provider
	Model    string
	// Input/system for this call. Grounded mode generates two plans; the
	// second plan's Input is derived from the first plan's output text.
	System string
	Input  string

	// Options
	Temperature     *float32
	MaxOutputTokens *int
	Labels          map[string]string

	// Structured JSON
	ResponseSchema map[string]any
	Structured     bool

	// Grounded enables the provider's search-grounding tool for this call.
	// Mutually exclusive with Structured on the wire.
	Grounded bool

	// Reparse marks the second grounded-mode plan: its Input is rebuilt from
	// the previous plan's text before execution.
	Reparse bool

	// Step metadata for progress notifications and step-scoped errors.
	Step      int
	StepTotal int
	StepLabel string
}

// callResult is the provider-agnostic result of one call execution.
type callResult struct {
	Text string
	JSON map[string]any

	// GroundingSources carries web URIs reported by the endpoint for a
	// grounded call.
	GroundingSources []string

	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}
