// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides in-process metrics collection for the
// planner's job lifecycle, per-worker queue depth, and thermal
// readings. It is a passive sink: nothing in internal/ reads these
// counters back, they only feed an operator-facing snapshot.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgerun/plannerd/internal/job"
)

// Collector is the interface for metrics collection.
type Collector interface {
	// RecordJobCompletion records one job reaching a terminal status,
	// along with the latency it took to get there.
	RecordJobCompletion(workerID, modelID int, status job.Status, latency time.Duration)

	// RecordQueueDepth records the current depth of a worker's pending
	// queue; cmd/plannerd samples it on a ticker.
	RecordQueueDepth(workerID int, depth int)

	// RecordThermalReading records a worker's current temperature, as
	// read from internal/resource.Monitor.
	RecordThermalReading(workerID int, milliCelsius int64)

	// RecordCacheHit records a prediction-cache hit.
	RecordCacheHit(key string)

	// RecordCacheMiss records a prediction-cache miss.
	RecordCacheMiss(key string)

	// GetStats returns current metrics statistics.
	GetStats() *Stats

	// Reset resets all metrics.
	Reset()
}

// Stats contains aggregated metrics statistics.
type Stats struct {
	// Job metrics
	TotalJobs          int64
	JobsByStatus       map[job.Status]int64
	JobsByWorker       map[int]int64
	JobLatencyStats    DurationStats
	JobLatencyByWorker map[int]DurationStats

	// Queue metrics
	QueueDepthByWorker map[int]int64

	// Thermal metrics
	ThermalByWorker map[int]int64

	// Cache metrics
	CacheHits   int64
	CacheMisses int64
	CacheRatio  float64

	// Timing
	StartTime time.Time
	Duration  time.Duration
}

// DurationStats contains statistics for duration measurements.
type DurationStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	Average time.Duration
}

// InMemoryCollector is an in-memory implementation of Collector.
type InMemoryCollector struct {
	mu sync.RWMutex

	// Job counters
	totalJobs          int64
	jobsByStatus       map[job.Status]*int64
	jobsByWorker       map[int]*int64
	jobLatency         *durationAggregator
	jobLatencyByWorker map[int]*durationAggregator

	// Queue gauges (latest sample wins, no history kept)
	queueDepthByWorker map[int]int64

	// Thermal gauges
	thermalByWorker map[int]int64

	// Cache counters
	cacheHits   int64
	cacheMisses int64

	// Timing
	startTime time.Time
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		jobsByStatus:       make(map[job.Status]*int64),
		jobsByWorker:       make(map[int]*int64),
		jobLatency:         newDurationAggregator(),
		jobLatencyByWorker: make(map[int]*durationAggregator),
		queueDepthByWorker: make(map[int]int64),
		thermalByWorker:    make(map[int]int64),
		startTime:          time.Now(),
	}
}

// RecordJobCompletion records one job reaching a terminal status.
func (c *InMemoryCollector) RecordJobCompletion(workerID, modelID int, status job.Status, latency time.Duration) {
	atomic.AddInt64(&c.totalJobs, 1)

	incrementStatusCounter(&c.mu, c.jobsByStatus, status)
	incrementMapCounterInt(&c.mu, c.jobsByWorker, workerID)

	c.jobLatency.add(latency)

	c.mu.Lock()
	agg, exists := c.jobLatencyByWorker[workerID]
	if !exists {
		agg = newDurationAggregator()
		c.jobLatencyByWorker[workerID] = agg
	}
	c.mu.Unlock()
	agg.add(latency)
}

// RecordQueueDepth records the current depth of a worker's queue.
func (c *InMemoryCollector) RecordQueueDepth(workerID int, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepthByWorker[workerID] = int64(depth)
}

// RecordThermalReading records a worker's current temperature.
func (c *InMemoryCollector) RecordThermalReading(workerID int, milliCelsius int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thermalByWorker[workerID] = milliCelsius
}

// RecordCacheHit records a prediction-cache hit.
func (c *InMemoryCollector) RecordCacheHit(key string) {
	atomic.AddInt64(&c.cacheHits, 1)
}

// RecordCacheMiss records a prediction-cache miss.
func (c *InMemoryCollector) RecordCacheMiss(key string) {
	atomic.AddInt64(&c.cacheMisses, 1)
}

// GetStats returns current metrics statistics.
func (c *InMemoryCollector) GetStats() *Stats {
	stats := &Stats{
		TotalJobs:          atomic.LoadInt64(&c.totalJobs),
		CacheHits:          atomic.LoadInt64(&c.cacheHits),
		CacheMisses:        atomic.LoadInt64(&c.cacheMisses),
		JobsByStatus:       c.copyStatusCounters(c.jobsByStatus),
		JobsByWorker:       c.copyIntMapCounters(c.jobsByWorker),
		JobLatencyStats:    c.jobLatency.stats(),
		JobLatencyByWorker: c.copyDurationStatsByWorker(c.jobLatencyByWorker),
		QueueDepthByWorker: c.copyInt64Map(c.queueDepthByWorker),
		ThermalByWorker:    c.copyInt64Map(c.thermalByWorker),
		StartTime:          c.startTime,
		Duration:           time.Since(c.startTime),
	}

	totalCache := stats.CacheHits + stats.CacheMisses
	if totalCache > 0 {
		stats.CacheRatio = float64(stats.CacheHits) / float64(totalCache)
	}

	return stats
}

// Reset resets all metrics.
func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.totalJobs, 0)
	atomic.StoreInt64(&c.cacheHits, 0)
	atomic.StoreInt64(&c.cacheMisses, 0)

	c.jobsByStatus = make(map[job.Status]*int64)
	c.jobsByWorker = make(map[int]*int64)
	c.jobLatency = newDurationAggregator()
	c.jobLatencyByWorker = make(map[int]*durationAggregator)
	c.queueDepthByWorker = make(map[int]int64)
	c.thermalByWorker = make(map[int]int64)

	c.startTime = time.Now()
}

// incrementStatusCounter safely increments a counter keyed by job.Status.
func incrementStatusCounter(mu *sync.RWMutex, m map[job.Status]*int64, key job.Status) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var v int64
		counter = &v
		m[key] = counter
	}
	mu.Unlock()

	atomic.AddInt64(counter, 1)
}

// incrementMapCounterInt safely increments a counter in a map with int keys.
func incrementMapCounterInt(mu *sync.RWMutex, m map[int]*int64, key int) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var v int64
		counter = &v
		m[key] = counter
	}
	mu.Unlock()

	atomic.AddInt64(counter, 1)
}

// copyStatusCounters creates a copy of job.Status-keyed counters.
func (c *InMemoryCollector) copyStatusCounters(m map[job.Status]*int64) map[job.Status]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[job.Status]int64, len(m))
	for k, v := range m {
		result[k] = atomic.LoadInt64(v)
	}
	return result
}

// copyIntMapCounters creates a copy of int map counters.
func (c *InMemoryCollector) copyIntMapCounters(m map[int]*int64) map[int]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int]int64, len(m))
	for k, v := range m {
		result[k] = atomic.LoadInt64(v)
	}
	return result
}

// copyDurationStatsByWorker creates a copy of per-worker duration stats.
func (c *InMemoryCollector) copyDurationStatsByWorker(m map[int]*durationAggregator) map[int]DurationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int]DurationStats, len(m))
	for k, v := range m {
		result[k] = v.stats()
	}
	return result
}

// copyInt64Map creates a copy of a plain int64 gauge map.
func (c *InMemoryCollector) copyInt64Map(m map[int]int64) map[int]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// durationAggregator aggregates duration statistics.
type durationAggregator struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func newDurationAggregator() *durationAggregator {
	return &durationAggregator{
		min: time.Duration(1<<63 - 1), // MaxInt64
	}
}

func (d *durationAggregator) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.total += duration

	if duration < d.min {
		d.min = duration
	}
	if duration > d.max {
		d.max = duration
	}
}

func (d *durationAggregator) stats() DurationStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DurationStats{
		Count: d.count,
		Total: d.total,
		Min:   d.min,
		Max:   d.max,
	}

	if d.count > 0 {
		stats.Average = time.Duration(int64(d.total) / d.count)
	}

	if d.count == 0 {
		stats.Min = 0
	}

	return stats
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordJobCompletion(workerID, modelID int, status job.Status, latency time.Duration) {
}
func (NoOpCollector) RecordQueueDepth(workerID int, depth int)          {}
func (NoOpCollector) RecordThermalReading(workerID int, milliCelsius int64) {}
func (NoOpCollector) RecordCacheHit(key string)                         {}
func (NoOpCollector) RecordCacheMiss(key string)                        {}
func (NoOpCollector) GetStats() *Stats                                  { return &Stats{} }
func (NoOpCollector) Reset()                                            {}

// Global default collector
var defaultCollector Collector = &NoOpCollector{}

// SetDefaultCollector sets the default metrics collector.
func SetDefaultCollector(collector Collector) {
	if collector == nil {
		collector = &NoOpCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the default metrics collector.
func GetDefaultCollector() Collector {
	return defaultCollector
}
