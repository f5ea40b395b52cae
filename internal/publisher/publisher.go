// Package publisher emits generated artifacts and processing failures onto the
// outbound Redis streams.
package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// Publisher writes to atlas.ai.insights and atlas.ai.failed.
type Publisher struct {
	client       *atlas.Client
	streamMaxLen int64
	artifactTTL  time.Duration
	logger       *zap.Logger
}

// New creates a publisher.
func New(client *atlas.Client, cfg config.PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		streamMaxLen: cfg.StreamMaxLen,
		artifactTTL:  cfg.ArtifactTTL,
		logger:       logging.OrNop(logger).Named("publisher"),
	}
}

// PublishArtifact stores the artifact hash and announces it on the insights
// stream. The hash is written first so readers of the stream entry can always
// resolve the artifact. Returns the stream entry ID.
func (p *Publisher) PublishArtifact(ctx context.Context, a *atlas.Artifact) (string, error) {
	if err := p.client.WriteArtifact(ctx, a, p.artifactTTL); err != nil {
		return "", err
	}

	fields, err := atlas.ArtifactToFields(a)
	if err != nil {
		return "", err
	}

	id, err := p.client.AddToStream(ctx, atlas.InsightsStream, p.streamMaxLen, fields)
	if err != nil {
		return "", err
	}

	p.logger.Info("artifact published",
		zap.String("artifact_id", a.ID),
		zap.String("event_id", a.EventID),
		zap.String("entry_id", id),
		zap.Int("tokens", a.TokensUsed),
		zap.Bool("grounded", a.Grounded),
		zap.Bool("cached", a.Cached))
	return id, nil
}

// PublishFailure records a failure on the failed stream. Returns the stream
// entry ID.
func (p *Publisher) PublishFailure(ctx context.Context, f *atlas.Failure) (string, error) {
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("invalid failure: %w", err)
	}

	id, err := p.client.AddToStream(ctx, atlas.FailedStream, p.streamMaxLen, atlas.FailureToFields(f))
	if err != nil {
		return "", err
	}

	p.logger.Warn("failure published",
		zap.String("message_id", f.MessageID),
		zap.String("event_id", f.EventID),
		zap.String("reason", string(f.Reason)),
		zap.String("error", f.Error),
		zap.String("entry_id", id))
	return id, nil
}
