package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/advisor"
	"github.com/Matza-labs/atlas-ai/internal/cache"
	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/graph"
	"github.com/Matza-labs/atlas-ai/internal/grounding"
	"github.com/Matza-labs/atlas-ai/internal/llm"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
	"github.com/Matza-labs/atlas-ai/internal/printer"
	"github.com/Matza-labs/atlas-ai/internal/prompt"
)

// newAdvisor builds the generation pipeline: backend, gateway, cache and
// advisor. m may be nil.
func newAdvisor(ctx context.Context, cfg *config.Config, c cache.Cache, m *metrics.Metrics, logger *zap.Logger) (*advisor.Advisor, error) {
	policy, err := grounding.ParsePolicy(cfg.Grounding)
	if err != nil {
		return nil, printer.Error(
			"invalid grounding policy",
			err.Error(),
			[]string{"Set ATLAS_AI_GROUNDING to flag or reject"},
		)
	}

	backend, err := llm.NewBackend(ctx, cfg.LLM.Provider, llm.OptionsFromConfig(cfg.LLM))
	if err != nil {
		return nil, printer.ErrorWithContext(
			"LLM backend unavailable",
			fmt.Sprintf("Could not create the %s backend: %v", cfg.LLM.Provider, err),
			map[string]string{"Provider": cfg.LLM.Provider, "Base URL": cfg.LLM.BaseURL},
			[]string{
				"Set LLM_PROVIDER to ollama, openai, anthropic or gemini",
				"Set LLM_API_KEY for cloud providers",
			},
		)
	}

	gateway := llm.NewGateway(backend, llm.GatewayConfig{
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, m, logger)

	return advisor.New(
		gateway,
		prompt.NewBuilder(cfg.PromptBudget),
		cache.NewLoader(c, m, logger),
		advisor.Options{
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Policy:      policy,
		},
		m, logger,
	), nil
}

// newFetcher returns an evidence fetcher, backed by the graph service when
// ATLAS_GRAPH_URL is set.
func newFetcher(cfg *config.Config, logger *zap.Logger) *graph.Fetcher {
	var client *graph.Client
	if cfg.Graph.URL != "" {
		client = graph.NewClient(cfg.Graph.URL, nil, cfg.Graph.Timeout)
	}
	return graph.NewFetcher(client, cfg.Graph.MaxDepth, cfg.Graph.MaxItems, logger)
}
