package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/cache"
	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/consumer"
	"github.com/Matza-labs/atlas-ai/internal/health"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
	"github.com/Matza-labs/atlas-ai/internal/printer"
	"github.com/Matza-labs/atlas-ai/internal/publisher"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

const shutdownTimeout = 5 * time.Second

// runStream consumes events until ctx is cancelled or SIGINT/SIGTERM arrives.
func runStream(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := atlas.NewClientFromURL(cfg.RedisURL)
	if err != nil {
		return printer.Error(
			"invalid Redis URL",
			err.Error(),
			[]string{"Set ATLAS_REDIS_URL to a redis:// or rediss:// URL"},
		)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("error closing Redis client", zap.Error(err))
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = client.Ping(pingCtx)
	cancel()
	if err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis: %v", err),
			map[string]string{"URL": cfg.RedisURL},
			[]string{"Check that Redis is running", "Check ATLAS_REDIS_URL"},
		)
	}
	logger.Info("connected to Redis")

	m := metrics.New()

	adv, err := newAdvisor(ctx, cfg, cache.NewRedisCache(client.RedisClient(), cfg.CacheTTL), m, logger)
	if err != nil {
		return err
	}

	healthServer := health.NewServer(cfg.HealthAddr, client, m, logger)
	if err := healthServer.Start(); err != nil {
		return printer.Error(
			"health server failed to start",
			err.Error(),
			[]string{"Set ATLAS_AI_HEALTH_ADDR to a free address"},
		)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down health server", zap.Error(err))
		}
	}()

	c := consumer.New(
		client,
		cfg.Consumer,
		newFetcher(cfg, logger),
		adv,
		publisher.New(client, cfg.Publisher, logger),
		m,
		logger,
	)

	if err := c.Run(ctx); err != nil {
		return printer.Error(
			"consumer failed",
			err.Error(),
			[]string{"Check that the Redis user may create consumer groups"},
		)
	}

	logger.Info("stream consumer stopped")
	return nil
}
