package daur

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Client is the unified, minimal public client.
type Client struct {
	cfg    Config
	fetch  *fetcher
	cache  *ResultCache   // nil unless caching is configured
	openai providerClient // lazily init
	google providerClient // lazily init
}

// New creates a Client with the given config.
// If DetectEnv is true, it pulls missing API keys from environment variables.
func New(cfg Config) *Client {
	if cfg.DetectEnv {
		if cfg.OpenAIAPIKey == "" {
			cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.GoogleAPIKey == "" {
			cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	c := &Client{cfg: cfg, fetch: newFetcher(cfg)}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheMaxSize
		if size <= 0 {
			size = 128
		}
		c.cache = NewResultCache(cfg.CacheTTL, size)
	}
	return c
}

// Text executes a text request using the requested provider/model and the
// selected Mode orchestration. ModeGroundedJSON runs two sequential calls:
// a search-grounded free-text generation, then a schema-constrained re-parse
// of that text. Any failure aborts the whole sequence; there is no partial
// result.
func (c *Client) Text(ctx context.Context, req TextRequest) (TextResponse, error) {
	if req.Provider != ProviderOpenAI && req.Provider != ProviderGoogle {
		return TextResponse{}, fmt.Errorf("daur: unknown provider %q", req.Provider)
	}
	model := req.Model
	if model == "" {
		switch req.Provider {
		case ProviderOpenAI:
			model = c.cfg.DefaultModelOpenAI
		case ProviderGoogle:
			model = c.cfg.DefaultModelGoogle
		}
		if model == "" {
			return TextResponse{}, errors.New("daur: model must be specified")
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(req.Provider, model, req); ok {
			return cached, nil
		}
	}

	// 1) Build call plans based on Mode.
	plans, err := buildPlans(req.Provider, model, req)
	if err != nil {
		return TextResponse{}, err
	}

	// 2) Execute plans sequentially; later plans depend on earlier outputs.
	var finalRes callResult
	for i, p := range plans {
		if p.StepTotal > 1 && req.OnProgress != nil {
			req.OnProgress(p.Step, p.StepTotal, p.StepLabel)
		}

		pc, err := c.ensureProvider(p.Provider)
		if err != nil {
			return TextResponse{}, err
		}
		res, err := pc.Text(ctx, p)
		if err != nil {
			return TextResponse{}, err
		}

		// Grounded and structured plans must yield candidate text; an empty
		// reply is a step failure, not something the next step can repair.
		if (p.Grounded || p.Structured) && res.Text == "" {
			return TextResponse{}, fmt.Errorf("daur: step %d of %d (%s) returned no text", p.Step, p.StepTotal, p.StepLabel)
		}
		if res.GroundingSources != nil {
			finalRes.GroundingSources = res.GroundingSources
		}
		finalRes.Text = res.Text
		finalRes.JSON = res.JSON
		finalRes.PromptTokens = res.PromptTokens
		finalRes.CompletionTokens = res.CompletionTokens
		finalRes.TotalTokens = res.TotalTokens

		// Chaining: feed this step's text into the next plan.
		if i+1 < len(plans) {
			if plans[i+1].Reparse {
				plans[i+1].Input = buildReparsePrompt(resultPreferredInput(res))
			} else {
				plans[i+1].Input = resultPreferredInput(res)
			}
		}
	}

	if req.ValidateResult && len(req.ResponseSchema) > 0 && finalRes.JSON != nil {
		if err := ValidateAgainstSchema(req.ResponseSchema, finalRes.JSON); err != nil {
			return TextResponse{}, fmt.Errorf("daur: structured result failed validation: %w", err)
		}
	}

	out := TextResponse{
		Provider:         req.Provider,
		Model:            model,
		Mode:             req.Mode,
		Text:             finalRes.Text,
		JSON:             finalRes.JSON,
		GroundingSources: finalRes.GroundingSources,
	}
	out.PromptTokens = finalRes.PromptTokens
	out.CompletionTokens = finalRes.CompletionTokens
	out.TotalTokens = finalRes.TotalTokens

	if c.cache != nil {
		c.cache.Set(req.Provider, model, req, out)
	}
	return out, nil
}

func (c *Client) ensureProvider(p Provider) (providerClient, error) {
	switch p {
	case ProviderOpenAI:
		if c.openai == nil {
			pc, err := newOpenAIProvider(c.cfg)
			if err != nil {
				return nil, err
			}
			c.openai = pc
		}
		return c.openai, nil
	case ProviderGoogle:
		if c.google == nil {
			pc, err := newGoogleProvider(c.cfg, c.fetch)
			if err != nil {
				return nil, err
			}
			c.google = pc
		}
		return c.google, nil
	default:
		return nil, fmt.Errorf("daur: unsupported provider %q", p)
	}
}

// buildPlans converts a TextRequest + Mode into one or more call plans.
func buildPlans(provider Provider, model string, req TextRequest) ([]callPlan, error) {
	base := callPlan{
		Provider:        provider,
		Model:           model,
		System:          req.System,
		Input:           req.Input,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		Labels:          req.Labels,
		Step:            1,
		StepTotal:       1,
	}

	switch req.Mode {
	case ModeBasic:
		return []callPlan{base}, nil

	case ModeStructuredJSON:
		if len(req.ResponseSchema) == 0 {
			return nil, errors.New("daur: ResponseSchema is required for ModeStructuredJSON")
		}
		base.Structured = true
		base.ResponseSchema = req.ResponseSchema
		base.StepLabel = "structured generation"
		return []callPlan{base}, nil

	case ModeGroundedJSON:
		if len(req.ResponseSchema) == 0 {
			return nil, errors.New("daur: ResponseSchema is required for ModeGroundedJSON")
		}

		// Plan 1: search-grounded free-text generation.
		p1 := base
		p1.Grounded = true
		p1.Step, p1.StepTotal = 1, 2
		p1.StepLabel = "grounded generation"

		// Plan 2: schema-constrained re-parse of plan 1's text. The input is
		// rebuilt from plan 1's output; the re-parse instruction is applied
		// internally.
		p2 := base
		p2.Structured = true
		p2.ResponseSchema = req.ResponseSchema
		p2.Reparse = true
		p2.System = ""
		p2.Step, p2.StepTotal = 2, 2
		p2.StepLabel = "structured re-parse"
		return []callPlan{p1, p2}, nil

	default:
		return nil, fmt.Errorf("daur: unknown mode %v", req.Mode)
	}
}

// buildReparsePrompt wraps grounded free text in the instruction that makes
// the model restructure it without adding new content.
func buildReparsePrompt(text string) string {
	return "Based only on the following text, extract the information and return it as a single JSON object conforming to the configured response schema. Do not include any other text or markdown.\n\nText:\n" + text
}

// resultPreferredInput picks the best string to feed into the next step.
func resultPreferredInput(res callResult) string {
	if res.Text != "" {
		return res.Text
	}
	// If structured result, feed JSON string.
	if len(res.JSON) > 0 {
		b := jsonMarshalNoErr(res.JSON)
		return string(b)
	}
	return ""
}

func jsonMarshalNoErr(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
