// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/planner"
)

// finishedSource is the slice of *planner.Planner a Collector depends
// on; satisfied by *planner.Planner, mirroring pkg/watch's narrowing.
type finishedSource interface {
	Subscribe(buffer int) (<-chan planner.FinishedEvent, func())
}

// thermalReader is the slice of *internal/resource.Monitor a Collector
// needs for thermal headroom.
type thermalReader interface {
	GetTemperature(workerID int) int64
	GetThrottlingThreshold(workerID int) int64
}

type workerRegistration struct {
	isIdle func() bool
}

// Collector accumulates finished-job samples in a bounded window and
// turns them into a Report on demand. It subscribes once (Start) and
// is read continuously thereafter (Snapshot); it never dispatches
// jobs or influences scheduling.
type Collector struct {
	source  finishedSource
	thermal thermalReader
	window  time.Duration
	weights ReportWeights

	mu      sync.Mutex
	samples []Sample
	workers map[int]workerRegistration
}

// NewCollector builds a Collector reading finished jobs from source
// and thermal readings from thermal, retaining samples for window.
func NewCollector(source finishedSource, thermal thermalReader, window time.Duration) *Collector {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Collector{
		source:  source,
		thermal: thermal,
		window:  window,
		weights: DefaultReportWeights(),
		workers: make(map[int]workerRegistration),
	}
}

// WithWeights overrides the default SLO/thermal/idle blend.
func (c *Collector) WithWeights(w ReportWeights) *Collector {
	c.weights = w
	return c
}

// RegisterWorker attaches an idleness probe for workerID, mirroring
// internal/planner.WorkerInfo.IsIdleFunc; isIdle is polled at
// Snapshot time, not cached.
func (c *Collector) RegisterWorker(workerID int, isIdle func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[workerID] = workerRegistration{isIdle: isIdle}
}

// Start subscribes to the finished-job feed and records samples until
// ctx is done.
func (c *Collector) Start(ctx context.Context) {
	finished, cancel := c.source.Subscribe(256)
	go c.consume(ctx, finished, cancel)
}

func (c *Collector) consume(ctx context.Context, finished <-chan planner.FinishedEvent, cancel func()) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-finished:
			if !ok {
				return
			}
			c.record(ev)
		}
	}
}

func (c *Collector) record(ev planner.FinishedEvent) {
	s := Sample{
		Timestamp: ev.Job.EndTime,
		WorkerID:  ev.Job.WorkerID,
		ModelID:   ev.Job.ModelID,
		Status:    ev.Job.Status,
		Latency:   ev.Job.ProfiledLatency,
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	c.prune(s.Timestamp)
}

// prune drops samples older than window, measured from now.
func (c *Collector) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.samples) && c.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = c.samples[i:]
	}
}

// Snapshot builds a Report from the current window, as of now.
func (c *Collector) Snapshot(now time.Time) Report {
	c.mu.Lock()
	c.prune(now)
	samples := make([]Sample, len(c.samples))
	copy(samples, c.samples)
	registrations := make(map[int]workerRegistration, len(c.workers))
	for id, reg := range c.workers {
		registrations[id] = reg
	}
	c.mu.Unlock()

	byWorker := make(map[int][]Sample)
	for _, s := range samples {
		byWorker[s.WorkerID] = append(byWorker[s.WorkerID], s)
	}
	for id := range registrations {
		if _, ok := byWorker[id]; !ok {
			byWorker[id] = nil
		}
	}

	report := Report{GeneratedAt: now, Window: c.window}
	var totalCompleted, totalViolations int64
	for workerID, ws := range byWorker {
		stat := c.workerStat(workerID, ws, registrations[workerID], now)
		report.Workers = append(report.Workers, stat)
		totalCompleted += stat.Completed
		totalViolations += stat.SLOViolations
	}

	report.OverallSLOHitRate = sloHitRate(totalCompleted, totalViolations)
	report.OverallThroughputQPS = throughputQPS(totalCompleted, c.window)
	if len(report.Workers) > 0 {
		scores := make([]float64, len(report.Workers))
		for i, w := range report.Workers {
			scores[i] = w.Score
		}
		report.OverallScore = mean(scores)
	}
	return report
}

func (c *Collector) workerStat(workerID int, samples []Sample, reg workerRegistration, now time.Time) WorkerStat {
	var violations int64
	for _, s := range samples {
		if !s.SLOMet() {
			violations++
		}
	}
	completed := int64(len(samples))

	var temp, throttle int64
	if c.thermal != nil {
		temp = c.thermal.GetTemperature(workerID)
		throttle = c.thermal.GetThrottlingThreshold(workerID)
	}
	headroom := throttle - temp

	idleRatio := 0.0
	if reg.isIdle != nil && reg.isIdle() {
		idleRatio = 1.0
	}

	stat := WorkerStat{
		WorkerID:        workerID,
		Completed:       completed,
		SLOViolations:   violations,
		SLOHitRate:      sloHitRate(completed, violations),
		ThroughputQPS:   throughputQPS(completed, c.window),
		IdleRatio:       idleRatio,
		Temperature:     temp,
		ThrottleTemp:    throttle,
		ThermalHeadroom: headroom,
	}
	stat.Score = score(stat.SLOHitRate, headroom, throttle, idleRatio, c.weights)
	return stat
}
