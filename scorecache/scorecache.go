// Package scorecache memoizes raw score sets in front of the RPC client.
// A document scored once by a given model is answered from the cache until
// its entry expires. Cache trouble never fails a prediction: a broken
// backend is logged, counted and treated as a miss.
package scorecache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/greynewell/intentd/config"
	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/predictor"
)

// Cache stores score sets by key.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]float64, bool, error)
	Set(ctx context.Context, key string, scores map[string]float64) error
	Close() error
}

// Key derives the cache key for text scored by modelID.
func Key(modelID, text string) string {
	sum := sha1.Sum([]byte(modelID + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Open builds the cache named by cfg.Backend. It returns a nil Cache for
// "none".
func Open(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(cfg.TTL, cfg.Capacity), nil
	case "redis":
		r := NewRedis(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	default:
		return nil, errors.Newf(errors.CodeValidation, "unknown cache backend %q", cfg.Backend)
	}
}

// Cached wraps a Predictor with a Cache.
type Cached struct {
	next    predictor.Predictor
	cache   Cache
	modelID string
	log     *logging.Logger
	metrics *metrics.Metrics
}

var _ predictor.Predictor = (*Cached)(nil)

// NewCached returns next unchanged when cache is nil.
func NewCached(next predictor.Predictor, cache Cache, modelID string, log *logging.Logger, m *metrics.Metrics) predictor.Predictor {
	if cache == nil {
		return next
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Cached{next: next, cache: cache, modelID: modelID, log: log, metrics: m}
}

// Predict implements predictor.Predictor.
func (c *Cached) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	key := Key(c.modelID, doc)

	scores, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.CacheResult(metrics.CacheError)
		c.log.Warn(ctx, "score cache get failed", "error", err)
	case ok:
		c.metrics.CacheResult(metrics.CacheHit)
		return scores, nil
	default:
		c.metrics.CacheResult(metrics.CacheMiss)
	}

	scores, err = c.next.Predict(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, scores); err != nil {
		c.log.Warn(ctx, "score cache set failed", "error", err)
	}
	return scores, nil
}

// ttlOrDefault keeps a zero TTL from meaning "forever" by accident.
func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 5 * time.Minute
	}
	return ttl
}
