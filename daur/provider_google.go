package daur

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const defaultGoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type googleProvider struct {
	apiKey  string
	baseURL string
	fetch   *fetcher
}

func newGoogleProvider(cfg Config, fetch *fetcher) (providerClient, error) {
	if cfg.GoogleAPIKey == "" {
		return nil, errors.New("daur: Google API key is required to use ProviderGoogle")
	}
	baseURL := cfg.GoogleBaseURL
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	return &googleProvider{
		apiKey:  cfg.GoogleAPIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		fetch:   fetch,
	}, nil
}

func (p *googleProvider) Text(ctx context.Context, plan callPlan) (callResult, error) {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: plan.Input}}},
		},
	}
	if strings.TrimSpace(plan.System) != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: plan.System}},
		}
	}

	gc := &geminiGenerationConfig{}
	if plan.Temperature != nil {
		gc.Temperature = plan.Temperature
	}
	if plan.MaxOutputTokens != nil {
		gc.MaxOutputTokens = *plan.MaxOutputTokens
	}

	// Grounding and schema-constrained output are mutually exclusive on this
	// endpoint; buildPlans never sets both on one plan.
	if plan.Grounded {
		req.Tools = []geminiTool{{GoogleSearch: &geminiGoogleSearch{}}}
	}
	if plan.Structured && len(plan.ResponseSchema) > 0 {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = plan.ResponseSchema
	}
	if gc.Temperature != nil || gc.MaxOutputTokens != 0 || gc.ResponseMIMEType != "" {
		req.GenerationConfig = gc
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, plan.Model, url.QueryEscape(p.apiKey))

	var resp geminiResponse
	if err := p.fetch.postJSON(ctx, endpoint, req, &resp); err != nil {
		return callResult{}, err
	}

	cr := toCallResultFromWire(&resp)

	if plan.Structured && cr.Text != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(cr.Text), &m); err != nil {
			return callResult{}, fmt.Errorf("daur: parsing structured response: %w", err)
		}
		cr.JSON = m
	}
	return cr, nil
}

func toCallResultFromWire(res *geminiResponse) callResult {
	cr := callResult{}
	if res == nil || len(res.Candidates) == 0 {
		return cr
	}
	cand := res.Candidates[0]
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			// If multiple text parts, concatenate with a newline.
			if cr.Text == "" {
				cr.Text = p.Text
			} else {
				cr.Text += "\n" + p.Text
			}
		}
	}

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				cr.GroundingSources = append(cr.GroundingSources, chunk.Web.URI)
			}
		}
	}

	if res.UsageMetadata.PromptTokenCount > 0 {
		pt := res.UsageMetadata.PromptTokenCount
		cr.PromptTokens = &pt
	}
	if res.UsageMetadata.CandidatesTokenCount > 0 {
		ct := res.UsageMetadata.CandidatesTokenCount
		cr.CompletionTokens = &ct
	}
	if res.UsageMetadata.TotalTokenCount > 0 {
		tt := res.UsageMetadata.TotalTokenCount
		cr.TotalTokens = &tt
	}
	return cr
}
