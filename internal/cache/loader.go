package cache

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Matza-labs/atlas-ai/internal/llm"
	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/internal/metrics"
)

// LoadFunc produces a response on a cache miss.
type LoadFunc func(ctx context.Context) (*llm.Response, error)

// Loader fronts a Cache. Concurrent misses for the same key share one load.
// Cache failures never fail a load: read errors count as misses and write
// errors are only logged.
type Loader struct {
	cache   Cache
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewLoader wraps c. m and logger may be nil.
func NewLoader(c Cache, m *metrics.Metrics, logger *zap.Logger) *Loader {
	return &Loader{
		cache:   c,
		metrics: m,
		logger:  logging.OrNop(logger).Named("cache"),
	}
}

type loadResult struct {
	resp   *llm.Response
	cached bool
}

// GetOrLoad returns the cached response for key, or calls load and stores its
// result. The boolean reports whether the response came from the cache.
func (l *Loader) GetOrLoad(ctx context.Context, key string, load LoadFunc) (*llm.Response, bool, error) {
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		resp, ok, err := l.cache.Get(ctx, key)
		switch {
		case err != nil:
			l.metrics.CacheLookup("error")
			l.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		case ok:
			l.metrics.CacheLookup("hit")
			return loadResult{resp: resp, cached: true}, nil
		default:
			l.metrics.CacheLookup("miss")
		}

		resp, err = load(ctx)
		if err != nil {
			return nil, err
		}

		if err := l.cache.Put(ctx, key, resp); err != nil {
			l.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return loadResult{resp: resp}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(loadResult)
	copied := *res.resp
	return &copied, res.cached, nil
}
