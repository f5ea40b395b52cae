// Package graph assembles the evidence an LLM prompt may cite: items derived
// from the analysis report plus, when configured, items read from the external
// graph service.
package graph

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// Fetcher builds the evidence set for an event.
type Fetcher struct {
	client   *Client // nil disables graph lookups
	maxDepth int
	maxItems int
	logger   *zap.Logger
}

// NewFetcher creates a fetcher. client may be nil, in which case only
// report-derived evidence is returned.
func NewFetcher(client *Client, maxDepth, maxItems int, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		maxDepth: maxDepth,
		maxItems: maxItems,
		logger:   logging.OrNop(logger).Named("graph"),
	}
}

// Fetch returns report-derived evidence followed by graph evidence for the
// event's run. Graph failures degrade to report-derived evidence; the only
// error returned is cancellation of ctx.
func (f *Fetcher) Fetch(ctx context.Context, event *atlas.Event) ([]atlas.EvidenceRef, error) {
	evidence := FromReport(event.Report)

	if f.client == nil || event.RunID == "" {
		return evidence, nil
	}

	graphEvidence, err := f.expand(ctx, event.RunID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("graph service unavailable, using report evidence only",
			zap.String("event_id", event.EventID),
			zap.String("run_id", event.RunID),
			zap.Error(err))
		return evidence, nil
	}

	seen := make(map[string]bool, len(evidence))
	for _, ev := range evidence {
		seen[ev.ID] = true
	}
	for _, ev := range graphEvidence {
		if !seen[ev.ID] {
			seen[ev.ID] = true
			evidence = append(evidence, ev)
		}
	}
	return evidence, nil
}

// expand performs a breadth-first walk from the run's seed evidence through
// Related links, up to maxDepth levels beyond the seed and maxItems items.
// Items that have disappeared are skipped.
func (f *Fetcher) expand(ctx context.Context, runID string) ([]atlas.EvidenceRef, error) {
	seeds, err := f.client.RunEvidence(ctx, runID)
	if err != nil {
		return nil, err
	}

	var result []atlas.EvidenceRef
	seen := make(map[string]bool)
	var queue []string

	add := func(ref atlas.EvidenceRef) bool {
		if seen[ref.ID] {
			return true
		}
		if f.maxItems > 0 && len(result) >= f.maxItems {
			return false
		}
		seen[ref.ID] = true
		result = append(result, ref)
		queue = append(queue, ref.Related...)
		return true
	}

	for _, ref := range seeds {
		if !add(ref) {
			break
		}
	}

	depth := 0
	for len(queue) > 0 && depth < f.maxDepth {
		depth++
		levelSize := len(queue)

		for i := 0; i < levelSize; i++ {
			id := queue[0]
			queue = queue[1:]
			if seen[id] {
				continue
			}

			ref, err := f.client.Evidence(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					f.logger.Debug("related evidence not found, skipping", zap.String("evidence_id", id))
					continue
				}
				return nil, err
			}

			if !add(*ref) {
				f.logger.Debug("evidence limit reached", zap.Int("max_items", f.maxItems))
				return result, nil
			}
		}
	}

	if len(queue) > 0 {
		f.logger.Debug("evidence depth limit reached",
			zap.Int("max_depth", f.maxDepth),
			zap.Int("pending", len(queue)))
	}

	return result, nil
}
