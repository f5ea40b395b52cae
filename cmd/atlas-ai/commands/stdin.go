package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/cache"
	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/grounding"
	"github.com/Matza-labs/atlas-ai/internal/printer"
	"github.com/Matza-labs/atlas-ai/internal/prompt"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// stdinResult is the document written to stdout in stdin mode.
type stdinResult struct {
	Model            string           `json:"model"`
	TokensUsed       int              `json:"tokens_used"`
	Roadmap          string           `json:"roadmap"`
	ExecutiveSummary string           `json:"executive_summary"`
	Grounding        grounding.Report `json:"grounding"`
}

// runStdin analyzes the single report read from in and writes the result to
// out as indented JSON.
func runStdin(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	data = bytes.TrimSpace(data)

	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return printer.Error(
			"invalid input",
			"Standard input must contain a JSON analysis report object.",
			[]string{"Pipe a report produced by the analyzer:\n  atlas-ai < report.json"},
		)
	}

	// Results are cached for the life of the process only.
	adv, err := newAdvisor(ctx, cfg, cache.NewMemoryCache(cfg.CacheTTL), nil, logger)
	if err != nil {
		return err
	}

	event := &atlas.Event{
		EventID: uuid.New().String(),
		RunID:   gjson.GetBytes(data, "run_id").String(),
		Report:  json.RawMessage(data),
	}
	evidence, err := newFetcher(cfg, logger).Fetch(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to fetch evidence: %w", err)
	}

	res, err := adv.Analyze(ctx, event.Report, evidence)
	if err != nil {
		return analysisError(cfg, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(stdinResult{
		Model:            res.Model,
		TokensUsed:       res.TokensUsed,
		Roadmap:          res.Roadmap,
		ExecutiveSummary: res.ExecutiveSummary,
		Grounding:        res.Grounding,
	})
}

func analysisError(cfg *config.Config, err error) error {
	switch {
	case errors.Is(err, prompt.ErrBudgetExceeded):
		return printer.Error(
			"prompt budget exceeded",
			err.Error(),
			[]string{"Raise ATLAS_AI_PROMPT_BUDGET"},
		)
	case errors.Is(err, grounding.ErrUngrounded):
		return printer.Error(
			"ungrounded output rejected",
			err.Error(),
			[]string{"Retry the analysis", "Set ATLAS_AI_GROUNDING=flag to keep ungrounded output"},
		)
	default:
		return printer.ErrorWithContext(
			"analysis failed",
			err.Error(),
			map[string]string{"Provider": cfg.LLM.Provider, "Model": cfg.LLM.Model, "Base URL": cfg.LLM.BaseURL},
			[]string{"Check that the LLM backend is reachable", "Check LLM_MODEL names an available model"},
		)
	}
}
