package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// anthropicBackend calls the Anthropic Messages API.
type anthropicBackend struct {
	msgs        anthropicMessages
	model       string
	maxTokens   int
	temperature float64
}

func newAnthropic(opts Options) (*anthropicBackend, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	}
	if base := cloudBaseURL(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	client := anthropicsdk.NewClient(reqOpts...)
	return &anthropicBackend{
		msgs:        &client.Messages,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

func (b *anthropicBackend) Name() string { return "anthropic" }

func (b *anthropicBackend) Generate(ctx context.Context, system, user string) (*Response, error) {
	msg, err := b.msgs.New(ctx, anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(b.model),
		MaxTokens:   int64(b.maxTokens),
		System:      []anthropicsdk.TextBlockParam{{Text: system}},
		Messages:    []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(user))},
		Temperature: anthropicsdk.Float(b.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	model := string(msg.Model)
	if model == "" {
		model = b.model
	}

	return &Response{
		Content:    content.String(),
		Model:      model,
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Provider:   "anthropic",
	}, nil
}
