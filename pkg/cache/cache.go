// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package cache memoizes internal/cost.ModelManager's latency
// predictions. The planner routes RekeyLatency, the work-stealing
// probe, through it when configured with WithLatencyCache; the
// schedulers call the ModelManager directly.
package cache

import (
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/cost"
)

// predictor is the slice of *cost.ModelManager the cache wraps.
type predictor interface {
	GetPredictedLatency(workerID, modelID int, inputBytes, outputBytes int64) time.Duration
	Update(workerID int, obs cost.Observation, tempAfter map[string]int64)
}

// Config controls TTL and background sweep cadence.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns a short TTL suited to the planner's
// millisecond-scale scheduling loop: predictions go stale the moment
// a new observation lands, but between observations they're safe to
// reuse across an entire scheduling window.
func DefaultConfig() Config {
	return Config{TTL: 2 * time.Second, CleanupInterval: 10 * time.Second}
}

type key struct {
	workerID    int
	subgraphIdx int
}

type item struct {
	latency  time.Duration
	expiry   time.Time
	hitCount int64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits         int64
	Misses       int64
	Invalidations int64
	CurrentItems int64
}

// PredictionCache memoizes GetPredictedLatency results keyed by
// (worker_id, subgraph_idx), with TTL-based lazy expiry plus a
// background sweep, and explicit invalidation on model updates.
type PredictionCache struct {
	models predictor
	config Config

	mu    sync.RWMutex
	items map[key]item
	stats Stats

	sweep  *time.Ticker
	stopCh chan struct{}
}

// New wraps models in a PredictionCache per config. Pass a nil config
// to use DefaultConfig.
func New(models predictor, config *Config) *PredictionCache {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	c := &PredictionCache{
		models: models,
		config: cfg,
		items:  make(map[key]item),
		stopCh: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		c.sweep = time.NewTicker(cfg.CleanupInterval)
		go c.runSweep()
	}
	return c
}

// GetPredictedLatency returns the cached prediction for
// (workerID, subgraphIdx) if it's still fresh, otherwise calls through
// to the wrapped ModelManager and caches the result.
func (c *PredictionCache) GetPredictedLatency(workerID, subgraphIdx, modelID int, inputBytes, outputBytes int64) time.Duration {
	k := key{workerID: workerID, subgraphIdx: subgraphIdx}

	c.mu.RLock()
	it, ok := c.items[k]
	c.mu.RUnlock()
	if ok && time.Now().Before(it.expiry) {
		c.mu.Lock()
		it = c.items[k]
		it.hitCount++
		c.items[k] = it
		c.stats.Hits++
		c.mu.Unlock()
		return it.latency
	}

	latency := c.models.GetPredictedLatency(workerID, modelID, inputBytes, outputBytes)

	c.mu.Lock()
	c.items[k] = item{latency: latency, expiry: time.Now().Add(c.config.TTL)}
	c.stats.Misses++
	c.mu.Unlock()
	return latency
}

// Update folds obs into the wrapped ModelManager and invalidates every
// cached prediction for workerID, since its models just moved.
func (c *PredictionCache) Update(workerID int, obs cost.Observation, tempAfter map[string]int64) {
	c.models.Update(workerID, obs, tempAfter)
	c.Invalidate(workerID)
}

// Invalidate drops every cached prediction for workerID.
func (c *PredictionCache) Invalidate(workerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int64
	for k := range c.items {
		if k.workerID == workerID {
			delete(c.items, k)
			removed++
		}
	}
	c.stats.Invalidations += removed
}

// GetStats returns a snapshot of cache hit/miss counters.
func (c *PredictionCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.CurrentItems = int64(len(c.items))
	return s
}

// Close stops the background sweep goroutine.
func (c *PredictionCache) Close() {
	if c.sweep != nil {
		c.sweep.Stop()
	}
	close(c.stopCh)
}

func (c *PredictionCache) runSweep() {
	for {
		select {
		case <-c.sweep.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *PredictionCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, it := range c.items {
		if now.After(it.expiry) {
			delete(c.items, k)
		}
	}
}
