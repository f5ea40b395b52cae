package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type openaiChatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// openaiBackend calls any OpenAI-compatible chat completions endpoint
// (OpenAI, vLLM, LM Studio, Ollama's /v1).
type openaiBackend struct {
	completions openaiChatCompletions
	model       string
	maxTokens   int
	temperature float64
}

func newOpenAI(opts Options) *openaiBackend {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.HTTPClient),
		// Gateway owns retries.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(openaiBaseURL(opts.BaseURL)))
	}

	client := openai.NewClient(reqOpts...)
	return &openaiBackend{
		completions: &client.Chat.Completions,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

// openaiBaseURL appends the /v1 prefix expected by the SDK.
func openaiBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func (b *openaiBackend) Name() string { return "openai" }

func (b *openaiBackend) Generate(ctx context.Context, system, user string) (*Response, error) {
	completion, err := b.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(int64(b.maxTokens)),
		Temperature: openai.Float(b.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	content := ""
	if len(completion.Choices) > 0 {
		content = completion.Choices[0].Message.Content
	}

	return &Response{
		Content:    content,
		Model:      b.model,
		TokensUsed: int(completion.Usage.TotalTokens),
		Provider:   "openai",
	}, nil
}
