package daur

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openAIProvider struct {
	client *openai.Client
}

func newOpenAIProvider(cfg Config) (providerClient, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("daur: OpenAI API key is required to use ProviderOpenAI")
	}
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &openAIProvider{client: openai.NewClientWithConfig(oc)}, nil
}

func (p *openAIProvider) Text(ctx context.Context, plan callPlan) (callResult, error) {
	if plan.Grounded {
		// Search grounding is a Gemini endpoint capability.
		return callResult{}, errors.New("daur: ModeGroundedJSON requires ProviderGoogle")
	}

	req := openai.ChatCompletionRequest{
		Model: plan.Model,
	}
	if plan.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: plan.System,
		})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: plan.Input,
	})
	if plan.Temperature != nil {
		req.Temperature = *plan.Temperature
	}
	if plan.MaxOutputTokens != nil {
		req.MaxTokens = *plan.MaxOutputTokens
	}
	if len(plan.Labels) > 0 {
		req.Metadata = plan.Labels
	}
	if plan.Structured && len(plan.ResponseSchema) > 0 {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: rawJSONSchema{m: plan.ResponseSchema},
				Strict: true,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return callResult{}, err
	}
	if len(resp.Choices) == 0 {
		return callResult{}, errors.New("daur: no choices in response")
	}

	cr := callResult{Text: resp.Choices[0].Message.Content}
	if resp.Usage.PromptTokens > 0 {
		pt := resp.Usage.PromptTokens
		cr.PromptTokens = &pt
	}
	if resp.Usage.CompletionTokens > 0 {
		ct := resp.Usage.CompletionTokens
		cr.CompletionTokens = &ct
	}
	if resp.Usage.TotalTokens > 0 {
		tt := resp.Usage.TotalTokens
		cr.TotalTokens = &tt
	}

	if plan.Structured && cr.Text != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(cr.Text), &m); err != nil {
			return callResult{}, fmt.Errorf("daur: parsing structured response: %w", err)
		}
		cr.JSON = m
	}
	return cr, nil
}
