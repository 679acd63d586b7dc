package scorecache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is an in-process cache with per-entry expiry counted from Set and an optional
// capacity bound (least recently used entries are evicted first).
type Memory struct {
	c    *ttlcache.Cache[string, map[string]float64]
	once sync.Once
}

// NewMemory starts a cache. Close stops its expiry loop.
func NewMemory(ttl time.Duration, capacity int) *Memory {
	opts := []ttlcache.Option[string, map[string]float64]{
		ttlcache.WithTTL[string, map[string]float64](ttlOrDefault(ttl)),
		// a hit must not push the expiry back
		ttlcache.WithDisableTouchOnHit[string, map[string]float64](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, map[string]float64](uint64(capacity)))
	}
	m := &Memory{c: ttlcache.New[string, map[string]float64](opts...)}
	go m.c.Start()
	return m
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (map[string]float64, bool, error) {
	item := m.c.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return copyScores(item.Value()), true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, scores map[string]float64) error {
	m.c.Set(key, copyScores(scores), ttlcache.DefaultTTL)
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	return m.c.Len()
}

// Close implements Cache.
func (m *Memory) Close() error {
	m.once.Do(m.c.Stop)
	return nil
}

// copyScores keeps callers from mutating cached maps.
func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
