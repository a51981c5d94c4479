package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/rankforge/api/internal/config"
	"github.com/rankforge/api/internal/llm"
)

// GeminiClient implements llm.Provider on the Gemini API.
type GeminiClient struct {
	gClient *genai.Client
	model   string
}

// NewGeminiClient creates a Gemini provider. It fails when no API key is configured.
func NewGeminiClient(ctx context.Context, cfg *config.ProviderConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{gClient: gClient, model: cfg.Model}, nil
}

func (c *GeminiClient) Name() string {
	return "gemini"
}

func (c *GeminiClient) Complete(ctx context.Context, r llm.Request) (*llm.Response, error) {
	model := c.model
	if r.Model != "" {
		model = r.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: r.Prompt}},
		Role:  "user",
	}}

	genCfg := &genai.GenerateContentConfig{}
	if r.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(r.MaxTokens)
	}
	if r.Temperature > 0 {
		temp := float32(r.Temperature)
		genCfg.Temperature = &temp
	}
	if r.System != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: r.System}}}
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &llm.ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	out := &llm.Response{Text: resp.Text()}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		out.FinishReason = "safety"
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
