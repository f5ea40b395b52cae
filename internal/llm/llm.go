// Package llm talks to local or cloud LLM backends.
//
// The LLM is used exclusively to augment deterministic analysis, never to parse
// or extract CI/CD structure. Every backend implements the same narrow Backend
// interface; Gateway adds retries, timeouts, metrics and logging on top.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Matza-labs/atlas-ai/internal/config"
)

// DefaultBaseURL is the local Ollama endpoint used when nothing is configured.
const DefaultBaseURL = "http://localhost:11434"

// ErrUnknownProvider is returned for provider names with no backend.
var ErrUnknownProvider = errors.New("unknown LLM provider")

// Response is the structured result of one generation.
type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	Provider   string `json:"provider"`
}

// Backend generates a completion for a system and user prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, system, user string) (*Response, error)
}

// Options configures a backend.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// OptionsFromConfig maps the LLM section of the service configuration.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// NewBackend constructs the backend for provider.
func NewBackend(ctx context.Context, provider string, opts Options) (Backend, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	switch provider {
	case "ollama":
		return newOllama(opts), nil
	case "openai":
		return newOpenAI(opts), nil
	case "anthropic":
		return newAnthropic(opts)
	case "gemini":
		return newGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

// StatusError is an HTTP failure from a backend reached without an SDK.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed: HTTP %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// cloudBaseURL drops the local default so hosted SDKs use their own endpoint.
func cloudBaseURL(base string) string {
	if base == DefaultBaseURL {
		return ""
	}
	return base
}
