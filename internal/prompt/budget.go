package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// ErrBudgetExceeded is returned when a prompt is over the token ceiling even
// with every evidence item removed.
var ErrBudgetExceeded = errors.New("prompt exceeds token budget")

// EstimateTokens approximates the token count of s at four runes per token,
// rounded up.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Builder renders prompts that fit within a token ceiling.
type Builder struct {
	budget int
}

// NewBuilder returns a builder enforcing budget estimated tokens per prompt
// (system and user text together).
func NewBuilder(budget int) *Builder {
	return &Builder{budget: budget}
}

// Budget returns the configured ceiling.
func (b *Builder) Budget() int {
	return b.budget
}

// Analysis builds the roadmap prompt.
func (b *Builder) Analysis(raw json.RawMessage, evidence []atlas.EvidenceRef) (*atlas.Prompt, error) {
	r := parseReport(raw)
	return b.fit(atlas.PromptKindRoadmap, evidence, func(ev []atlas.EvidenceRef) string {
		return renderAnalysis(r, ev)
	})
}

// Summary builds the executive summary prompt.
func (b *Builder) Summary(raw json.RawMessage, evidence []atlas.EvidenceRef) (*atlas.Prompt, error) {
	r := parseReport(raw)
	return b.fit(atlas.PromptKindSummary, evidence, func(ev []atlas.EvidenceRef) string {
		return renderSummary(r, ev)
	})
}

// fit renders with all evidence, then drops the lowest-priority item until the
// prompt fits. Kept evidence stays in its original order.
func (b *Builder) fit(kind atlas.PromptKind, evidence []atlas.EvidenceRef, render func([]atlas.EvidenceRef) string) (*atlas.Prompt, error) {
	systemTokens := EstimateTokens(SystemPrompt)

	// Indices into evidence, highest priority first.
	order := make([]int, len(evidence))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return severityRank(evidence[order[a]].Severity) < severityRank(evidence[order[b]].Severity)
	})

	for keep := len(order); keep >= 0; keep-- {
		kept := selectEvidence(evidence, order[:keep])
		user := render(kept)
		tokens := systemTokens + EstimateTokens(user)
		if tokens <= b.budget {
			return &atlas.Prompt{
				Kind:            kind,
				System:          SystemPrompt,
				User:            user,
				EvidenceIDs:     evidenceIDs(kept),
				EstimatedTokens: tokens,
				Dropped:         len(evidence) - keep,
			}, nil
		}
	}

	minimum := systemTokens + EstimateTokens(render(nil))
	return nil, fmt.Errorf("%w: %s prompt needs %d tokens, budget is %d", ErrBudgetExceeded, kind, minimum, b.budget)
}

// selectEvidence returns the evidence at the given indices in original order.
func selectEvidence(evidence []atlas.EvidenceRef, indices []int) []atlas.EvidenceRef {
	keep := make(map[int]bool, len(indices))
	for _, i := range indices {
		keep[i] = true
	}
	out := make([]atlas.EvidenceRef, 0, len(indices))
	for i, ev := range evidence {
		if keep[i] {
			out = append(out, ev)
		}
	}
	return out
}

func evidenceIDs(evidence []atlas.EvidenceRef) []string {
	ids := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		ids = append(ids, ev.ID)
	}
	return ids
}

func severityRank(severity string) int {
	switch strings.ToLower(severity) {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	case "info":
		return 4
	default:
		return 5
	}
}
