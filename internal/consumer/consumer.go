// Package consumer reads analysis-complete events from the inbound stream and
// drives each one through evidence fetch, generation and publishing.
//
// Every entry is acknowledged once it produced either an artifact or a
// failure record. Entries interrupted by shutdown stay pending and are
// reclaimed later, by this consumer or another member of the group.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Matza-labs/atlas-ai/internal/advisor"
	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/grounding"
	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
	"github.com/Matza-labs/atlas-ai/internal/prompt"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

const (
	reclaimBatch = 100
	ackTimeout   = 5 * time.Second
	readBackoff  = time.Second
)

// Fetcher assembles the evidence for an event.
type Fetcher interface {
	Fetch(ctx context.Context, event *atlas.Event) ([]atlas.EvidenceRef, error)
}

// Analyzer generates the roadmap and summary for a report.
type Analyzer interface {
	Analyze(ctx context.Context, report json.RawMessage, evidence []atlas.EvidenceRef) (*advisor.Result, error)
}

// Publisher emits artifacts and failures.
type Publisher interface {
	PublishArtifact(ctx context.Context, a *atlas.Artifact) (string, error)
	PublishFailure(ctx context.Context, f *atlas.Failure) (string, error)
}

// Consumer is a member of the atlas-ai consumer group on atlas.reports.ready.
type Consumer struct {
	client    *atlas.Client
	cfg       config.ConsumerConfig
	fetcher   Fetcher
	analyzer  Analyzer
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// slots bounds entries processed at once across reading and reclaiming.
	slots chan struct{}
	// inFlight holds the IDs of entries currently being handled.
	inFlight sync.Map
}

// New creates a consumer. m and logger may be nil.
func New(client *atlas.Client, cfg config.ConsumerConfig, fetcher Fetcher, analyzer Analyzer, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	if cfg.Name == "" {
		cfg.Name = atlas.DefaultConsumer
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 1
	}
	// BLOCK 0 waits forever and would stall shutdown.
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{
		client:    client,
		cfg:       cfg,
		fetcher:   fetcher,
		analyzer:  analyzer,
		publisher: publisher,
		metrics:   m,
		logger:    logging.OrNop(logger).Named("consumer").With(zap.String("consumer", cfg.Name)),
		now:       time.Now,
		slots:     make(chan struct{}, cfg.Concurrency),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight entries.
// Returns an error only if the consumer group cannot be created.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.client.EnsureGroup(ctx, atlas.ReportsStream, atlas.ConsumerGroup); err != nil {
		return err
	}

	sched, err := c.startReclaimer(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("consuming",
		zap.String("stream", atlas.ReportsStream),
		zap.String("group", atlas.ConsumerGroup),
		zap.Int("concurrency", c.cfg.Concurrency))

	var workers errgroup.Group

	for ctx.Err() == nil {
		messages, err := c.client.ReadGroup(ctx, atlas.ReportsStream, atlas.ConsumerGroup, c.cfg.Name, c.cfg.ReadCount, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, msg := range messages {
			// Blocks while all workers are busy. Entries not started stay
			// pending.
			if !c.dispatch(ctx, &workers, msg, 1) {
				break
			}
		}
	}

	c.logger.Info("shutting down, waiting for in-flight entries")
	if sched != nil {
		<-sched.Stop().Done()
	}
	_ = workers.Wait()
	c.logger.Info("stopped")
	return nil
}

// startReclaimer schedules ReclaimOnce every ReclaimInterval. A zero interval
// disables reclaiming and returns a nil scheduler.
func (c *Consumer) startReclaimer(ctx context.Context) (*cron.Cron, error) {
	if c.cfg.ReclaimInterval <= 0 {
		return nil, nil
	}

	cl := cronLogger{c.logger.Sugar()}
	sched := cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
	spec := fmt.Sprintf("@every %s", c.cfg.ReclaimInterval)
	if _, err := sched.AddFunc(spec, func() {
		if _, err := c.ReclaimOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("reclaim failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid reclaim schedule %q: %w", spec, err)
	}
	sched.Start()
	return sched, nil
}

// ReclaimOnce claims entries idle for longer than MinIdle and processes them.
// Entries delivered more than MaxDeliveries times are dead-lettered instead.
// Entries this consumer is still handling are left to their worker. Returns
// the number of entries taken over.
func (c *Consumer) ReclaimOnce(ctx context.Context) (int, error) {
	messages, err := c.client.Reclaim(ctx, atlas.ReportsStream, atlas.ConsumerGroup, c.cfg.Name, c.cfg.MinIdle, reclaimBatch)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	deliveries, err := c.client.PendingDeliveries(ctx, atlas.ReportsStream, atlas.ConsumerGroup, ids...)
	if err != nil {
		return 0, err
	}

	var workers errgroup.Group
	taken := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		// A slow generation on this consumer looks idle to XAUTOCLAIM too.
		if _, busy := c.inFlight.Load(msg.ID); busy {
			c.logger.Debug("skipping entry still in flight", zap.String("message_id", msg.ID))
			continue
		}
		taken++
		count := deliveries[msg.ID]

		if c.cfg.MaxDeliveries > 0 && count > c.cfg.MaxDeliveries {
			c.deadLetter(ctx, msg, count)
			continue
		}
		if !c.dispatch(ctx, &workers, msg, count) {
			break
		}
	}
	_ = workers.Wait()

	if taken > 0 {
		c.logger.Info("reclaimed idle entries", zap.Int("count", taken))
	}
	return taken, nil
}

// dispatch waits for a free slot and handles msg in the group unless it is
// already being handled. It returns false, leaving the entry pending, if ctx
// is done first.
func (c *Consumer) dispatch(ctx context.Context, workers *errgroup.Group, msg redis.XMessage, deliveries int64) bool {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if _, busy := c.inFlight.LoadOrStore(msg.ID, struct{}{}); busy {
		<-c.slots
		return true
	}

	workers.Go(func() error {
		defer func() {
			c.inFlight.Delete(msg.ID)
			<-c.slots
		}()
		c.handle(ctx, msg, deliveries)
		return nil
	})
	return true
}

// handle processes one entry and acknowledges it, unless shutdown interrupted
// processing.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage, deliveries int64) {
	logger := c.logger.With(zap.String("message_id", msg.ID), zap.Int64("deliveries", deliveries))
	started := c.now()

	failure := c.process(ctx, logger, msg, deliveries)
	if failure != nil && ctx.Err() != nil {
		logger.Info("interrupted by shutdown, entry left pending", zap.String("error", failure.Error))
		return
	}

	if failure != nil {
		c.metrics.Event("failed")
		if _, err := c.publisher.PublishFailure(ctx, failure); err != nil {
			logger.Error("failed to publish failure", zap.Error(err))
		}
	} else {
		c.metrics.Event("processed")
		logger.Info("event processed", zap.Duration("took", c.now().Sub(started)))
	}

	c.ack(ctx, logger, msg.ID)
}

// process runs the pipeline for one entry. A nil return means an artifact was
// published.
func (c *Consumer) process(ctx context.Context, logger *zap.Logger, msg redis.XMessage, deliveries int64) *atlas.Failure {
	event, err := atlas.EventFromFields(msg.ID, msg.Values)
	if err != nil {
		return c.failure(msg.ID, "", atlas.FailureReasonDecode, err, deliveries)
	}
	event.Deliveries = deliveries
	logger = logger.With(zap.String("event_id", event.EventID))

	evidence, err := c.fetcher.Fetch(ctx, event)
	if err != nil {
		return c.failure(msg.ID, event.EventID, atlas.FailureReasonContext, err, deliveries)
	}

	res, err := c.analyzer.Analyze(ctx, event.Report, evidence)
	if err != nil {
		return c.failure(msg.ID, event.EventID, analysisFailureReason(err), err, deliveries)
	}

	artifact := NewArtifact(event, res, c.now())
	if _, err := c.publisher.PublishArtifact(ctx, artifact); err != nil {
		return c.failure(msg.ID, event.EventID, atlas.FailureReasonPublish, err, deliveries)
	}

	logger.Debug("artifact ready",
		zap.String("artifact_id", artifact.ID),
		zap.Int("evidence", len(evidence)),
		zap.Int("tokens", artifact.TokensUsed))
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, deliveries int64) {
	logger := c.logger.With(zap.String("message_id", msg.ID), zap.Int64("deliveries", deliveries))

	eventID := ""
	if event, err := atlas.EventFromFields(msg.ID, msg.Values); err == nil {
		eventID = event.EventID
	}

	err := fmt.Errorf("delivered %d times, limit is %d", deliveries, c.cfg.MaxDeliveries)
	f := c.failure(msg.ID, eventID, atlas.FailureReasonMaxDeliveries, err, deliveries)
	if _, err := c.publisher.PublishFailure(ctx, f); err != nil {
		logger.Error("failed to publish dead letter", zap.Error(err))
	}
	c.metrics.Event("dead_lettered")
	logger.Warn("entry dead-lettered")

	c.ack(ctx, logger, msg.ID)
}

// ack acknowledges even when ctx was cancelled after the outcome was
// published.
func (c *Consumer) ack(ctx context.Context, logger *zap.Logger, id string) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := c.client.Ack(ackCtx, atlas.ReportsStream, atlas.ConsumerGroup, id); err != nil {
		logger.Error("ack failed", zap.Error(err))
	}
}

func (c *Consumer) failure(messageID, eventID string, reason atlas.FailureReason, err error, deliveries int64) *atlas.Failure {
	return &atlas.Failure{
		EventID:     eventID,
		MessageID:   messageID,
		Reason:      reason,
		Error:       err.Error(),
		Deliveries:  deliveries,
		CreatedAtMs: c.now().UnixMilli(),
	}
}

func analysisFailureReason(err error) atlas.FailureReason {
	switch {
	case errors.Is(err, prompt.ErrBudgetExceeded):
		return atlas.FailureReasonBudget
	case errors.Is(err, grounding.ErrUngrounded):
		return atlas.FailureReasonUngrounded
	default:
		return atlas.FailureReasonGeneration
	}
}

// NewArtifact builds the analysis artifact for an event.
func NewArtifact(event *atlas.Event, res *advisor.Result, now time.Time) *atlas.Artifact {
	return &atlas.Artifact{
		ID:               uuid.New().String(),
		EventID:          event.EventID,
		RunID:            event.RunID,
		Kind:             atlas.ArtifactKindAnalysis,
		Roadmap:          res.Roadmap,
		ExecutiveSummary: res.ExecutiveSummary,
		Model:            res.Model,
		Provider:         res.Provider,
		TokensUsed:       res.TokensUsed,
		Provenance:       res.Provenance,
		Citations:        res.Grounding.Citations,
		Unknown:          res.Grounding.Unknown,
		Coverage:         res.Grounding.Coverage,
		Grounded:         res.Grounding.Grounded,
		Cached:           res.Cached,
		Fingerprint:      res.Fingerprint,
		CreatedAtMs:      now.UnixMilli(),
	}
}

// cronLogger routes scheduler logs to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
