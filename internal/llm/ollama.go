package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

// ollamaBackend calls the Ollama /api/chat endpoint.
type ollamaBackend struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

func newOllama(opts Options) *ollamaBackend {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &ollamaBackend{
		baseURL:     strings.TrimRight(base, "/"),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		client:      opts.HTTPClient,
	}
}

func (b *ollamaBackend) Name() string { return "ollama" }

func (b *ollamaBackend) Generate(ctx context.Context, system, user string) (*Response, error) {
	body, err := json.Marshal(ollamaRequest{
		Model: b.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
		Options: ollamaOptions{
			NumPredict:  b.maxTokens,
			Temperature: b.temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ollama response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(data)}
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("ollama returned invalid JSON")
	}

	return &Response{
		Content:    gjson.GetBytes(data, "message.content").String(),
		Model:      b.model,
		TokensUsed: int(gjson.GetBytes(data, "eval_count").Int()),
		Provider:   "ollama",
	}, nil
}
