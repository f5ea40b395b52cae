package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
)

// GatewayConfig tunes retries and timeouts around a backend.
type GatewayConfig struct {
	Timeout         time.Duration // Per attempt
	MaxRetries      int           // Retries after the first attempt
	InitialInterval time.Duration // First backoff delay
}

// Gateway wraps a Backend with per-request timeouts, retries on transient
// failures, metrics and logging. It is safe for concurrent use.
type Gateway struct {
	backend Backend
	cfg     GatewayConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewGateway wraps backend. m and logger may be nil.
func NewGateway(backend Backend, cfg GatewayConfig, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Gateway{
		backend: backend,
		cfg:     cfg,
		metrics: m,
		logger:  logging.OrNop(logger).Named("llm"),
	}
}

// Name reports the wrapped backend's provider name.
func (g *Gateway) Name() string {
	return g.backend.Name()
}

// Generate calls the backend, retrying transport errors, timeouts, 429 and 5xx
// responses with exponential backoff. Other 4xx responses and cancellation of
// ctx are not retried.
func (g *Gateway) Generate(ctx context.Context, system, user string) (*Response, error) {
	var resp *Response
	attempt := 0

	operation := func() error {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		start := time.Now()
		r, err := g.backend.Generate(reqCtx, system, user)
		tokens := 0
		if r != nil {
			tokens = r.TokensUsed
		}
		g.metrics.LLMRequest(g.backend.Name(), err, tokens, time.Since(start))

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			g.logger.Warn("LLM request failed, will retry",
				zap.String("provider", g.backend.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}

		resp = r
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.cfg.InitialInterval
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(g.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("LLM generation failed after %d attempt(s): %w", attempt, err)
	}

	g.logger.Debug("LLM generation complete",
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.TokensUsed),
		zap.Int("attempts", attempt))

	return resp, nil
}

// retryable reports whether err looks transient.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	status := statusCode(err)
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// statusCode extracts the HTTP status from any backend's error, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var ae *anthropicsdk.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}
