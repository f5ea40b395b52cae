// Package advisor turns an analysis report and its evidence into a
// modernization roadmap and an executive summary.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Matza-labs/atlas-ai/internal/cache"
	"github.com/Matza-labs/atlas-ai/internal/grounding"
	"github.com/Matza-labs/atlas-ai/internal/llm"
	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
	"github.com/Matza-labs/atlas-ai/internal/prompt"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// Options are the generation settings that, together with the prompt,
// identify a cached response.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Policy      grounding.Policy
}

// Result is the outcome of an analysis.
type Result struct {
	Roadmap          string           `json:"roadmap,omitempty"`
	ExecutiveSummary string           `json:"executive_summary,omitempty"`
	TokensUsed       int              `json:"tokens_used"`
	Model            string           `json:"model"`
	Provider         string           `json:"provider"`
	Provenance       []string         `json:"provenance"`
	Grounding        grounding.Report `json:"grounding"`
	Cached           bool             `json:"cached"`
	Fingerprint      string           `json:"fingerprint,omitempty"`
	Dropped          int              `json:"dropped,omitempty"`
}

// Advisor generates roadmaps and summaries. It is safe for concurrent use.
type Advisor struct {
	builder *prompt.Builder
	backend llm.Backend
	loader  *cache.Loader // nil disables caching
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an advisor. loader, m and logger may be nil.
func New(backend llm.Backend, builder *prompt.Builder, loader *cache.Loader, opts Options, m *metrics.Metrics, logger *zap.Logger) *Advisor {
	if opts.Policy == "" {
		opts.Policy = grounding.PolicyFlag
	}
	return &Advisor{
		builder: builder,
		backend: backend,
		loader:  loader,
		opts:    opts,
		metrics: m,
		logger:  logging.OrNop(logger).Named("advisor"),
	}
}

// Provider returns the backend's provider name.
func (a *Advisor) Provider() string {
	return a.backend.Name()
}

// generation is one prompt and its response.
type generation struct {
	prompt      *atlas.Prompt
	resp        *llm.Response
	cached      bool
	fingerprint string
}

// Analyze generates the roadmap and the executive summary concurrently.
// Tokens are summed across both, including the recorded usage of cached
// responses. Both texts are verified against the evidence actually rendered
// into the prompts.
func (a *Advisor) Analyze(ctx context.Context, report json.RawMessage, evidence []atlas.EvidenceRef) (*Result, error) {
	roadmapPrompt, err := a.builder.Analysis(report, evidence)
	if err != nil {
		return nil, err
	}
	summaryPrompt, err := a.builder.Summary(report, evidence)
	if err != nil {
		return nil, err
	}

	var roadmap, summary *generation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roadmap, err = a.generate(gctx, roadmapPrompt)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = a.generate(gctx, summaryPrompt)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return a.result(roadmap, summary)
}

// GenerateRoadmap generates only the roadmap.
func (a *Advisor) GenerateRoadmap(ctx context.Context, report json.RawMessage, evidence []atlas.EvidenceRef) (*Result, error) {
	p, err := a.builder.Analysis(report, evidence)
	if err != nil {
		return nil, err
	}
	gen, err := a.generate(ctx, p)
	if err != nil {
		return nil, err
	}
	return a.result(gen)
}

// GenerateSummary generates only the executive summary.
func (a *Advisor) GenerateSummary(ctx context.Context, report json.RawMessage, evidence []atlas.EvidenceRef) (*Result, error) {
	p, err := a.builder.Summary(report, evidence)
	if err != nil {
		return nil, err
	}
	gen, err := a.generate(ctx, p)
	if err != nil {
		return nil, err
	}
	return a.result(gen)
}

func (a *Advisor) generate(ctx context.Context, p *atlas.Prompt) (*generation, error) {
	fp := cache.Fingerprint(cache.FingerprintInput{
		Provider:    a.backend.Name(),
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		Prompt:      p,
	})

	load := func(ctx context.Context) (*llm.Response, error) {
		return a.backend.Generate(ctx, p.System, p.User)
	}

	var (
		resp   *llm.Response
		cached bool
		err    error
	)
	if a.loader != nil {
		resp, cached, err = a.loader.GetOrLoad(ctx, fp, load)
	} else {
		resp, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", p.Kind, err)
	}

	a.logger.Debug("generation complete",
		zap.String("kind", string(p.Kind)),
		zap.Int("estimated_tokens", p.EstimatedTokens),
		zap.Int("tokens", resp.TokensUsed),
		zap.Int("evidence", len(p.EvidenceIDs)),
		zap.Int("dropped", p.Dropped),
		zap.Bool("cached", cached))

	return &generation{prompt: p, resp: resp, cached: cached, fingerprint: fp}, nil
}

// result combines generations into a Result and applies the grounding policy.
// The first generation supplies the model and the fingerprint.
func (a *Advisor) result(gens ...*generation) (*Result, error) {
	res := &Result{
		Provider:    a.backend.Name(),
		Provenance:  []string{},
		Cached:      true,
		Fingerprint: gens[0].fingerprint,
		Model:       gens[0].resp.Model,
	}
	if res.Model == "" {
		res.Model = a.opts.Model
	}

	seen := make(map[string]bool)
	var texts []string
	for _, gen := range gens {
		switch gen.prompt.Kind {
		case atlas.PromptKindRoadmap:
			res.Roadmap = gen.resp.Content
		case atlas.PromptKindSummary:
			res.ExecutiveSummary = gen.resp.Content
		}
		texts = append(texts, gen.resp.Content)
		res.TokensUsed += gen.resp.TokensUsed
		res.Cached = res.Cached && gen.cached
		if gen.prompt.Dropped > res.Dropped {
			res.Dropped = gen.prompt.Dropped
		}
		a.metrics.DroppedEvidence(gen.prompt.Dropped)

		for _, id := range gen.prompt.EvidenceIDs {
			if !seen[id] {
				seen[id] = true
				res.Provenance = append(res.Provenance, id)
			}
		}
	}

	res.Grounding = grounding.Verify(res.Provenance, texts...)
	if n := len(res.Grounding.Unknown); n > 0 {
		a.metrics.UnknownCitations(n)
		a.logger.Warn("generated text cites unknown evidence",
			zap.Strings("unknown", res.Grounding.Unknown),
			zap.String("policy", string(a.opts.Policy)))
	}
	if err := a.opts.Policy.Enforce(res.Grounding); err != nil {
		return nil, err
	}

	return res, nil
}
