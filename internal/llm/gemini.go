package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// geminiBackend calls the Gemini API through the genai SDK.
type geminiBackend struct {
	models      geminiModels
	model       string
	maxTokens   int
	temperature float64
}

func newGemini(ctx context.Context, opts Options) (*geminiBackend, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := cloudBaseURL(opts.BaseURL); base != "" {
		cc.HTTPOptions.BaseURL = base
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &geminiBackend{
		models:      client.Models,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

func (b *geminiBackend) Name() string { return "gemini" }

func (b *geminiBackend) Generate(ctx context.Context, system, user string) (*Response, error) {
	resp, err := b.models.GenerateContent(ctx, b.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			MaxOutputTokens:   int32(b.maxTokens),
			Temperature:       genai.Ptr(float32(b.temperature)),
		})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{
		Content:    resp.Text(),
		Model:      b.model,
		TokensUsed: tokens,
		Provider:   "gemini",
	}, nil
}
