// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resource polls per-worker temperature and frequency from the
// configured sysfs paths and publishes bounded-history snapshots for
// the cost models and schedulers to read.
package resource

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgerun/plannerd/pkg/logging"
)

// PollInterval matches spec.md §4.C: "every 20 ms".
const PollInterval = 20 * time.Millisecond

// Unknown is returned for a worker whose sysfs path could not be read.
const Unknown = -1

// Sample is a single (value, timestamp) reading.
type Sample struct {
	Value     int64
	Timestamp time.Time
}

// Source is one worker's pair of sysfs paths and throttling threshold.
type Source struct {
	WorkerID    int
	TZPath      string
	FreqPath    string
	ThrottleTemp int64
}

// Monitor is the resource monitor singleton: a dedicated poller
// goroutine (intended to be pinned to a little-core affinity by the
// caller) that samples every configured source on PollInterval and
// keeps a bounded history per worker.
type Monitor struct {
	logger  logging.Logger
	sources []Source
	history int

	mu       sync.RWMutex
	temps    map[int][]Sample
	freqs    map[int][]Sample

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor over the given sources, keeping up to
// historySize samples per worker per metric.
func NewMonitor(sources []Source, historySize int, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if historySize <= 0 {
		historySize = 64
	}
	return &Monitor{
		logger:  logger,
		sources: sources,
		history: historySize,
		temps:   make(map[int][]Sample),
		freqs:   make(map[int][]Sample),
	}
}

// Start launches the poller goroutine. Stop must be called to release
// it.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.pollOnce()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poller and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) pollOnce() {
	now := time.Now()
	for _, src := range m.sources {
		temp := readSysfsInt(src.TZPath)
		freq := readSysfsInt(src.FreqPath)
		if temp == Unknown {
			m.logger.Warn("unreadable temperature path", "worker_id", src.WorkerID, "path", src.TZPath)
		}
		if freq == Unknown {
			m.logger.Warn("unreadable frequency path", "worker_id", src.WorkerID, "path", src.FreqPath)
		}

		m.mu.Lock()
		m.temps[src.WorkerID] = appendBounded(m.temps[src.WorkerID], Sample{temp, now}, m.history)
		m.freqs[src.WorkerID] = appendBounded(m.freqs[src.WorkerID], Sample{freq, now}, m.history)
		m.mu.Unlock()
	}
}

func appendBounded(hist []Sample, s Sample, max int) []Sample {
	hist = append(hist, s)
	if len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	return hist
}

// readSysfsInt reads a single integer from path, returning Unknown on
// any failure — per spec.md §4.C, an unreadable path degrades that
// worker's current reading to -1 rather than failing the poll cycle.
func readSysfsInt(path string) int64 {
	if path == "" {
		return Unknown
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Unknown
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return Unknown
	}
	return v
}

// GetTemperature returns the latest temperature sample for workerID,
// or Unknown if none has been taken yet.
func (m *Monitor) GetTemperature(workerID int) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.temps[workerID]
	if len(hist) == 0 {
		return Unknown
	}
	return hist[len(hist)-1].Value
}

// GetFrequency returns the latest frequency sample for workerID, or
// Unknown if none has been taken yet.
func (m *Monitor) GetFrequency(workerID int) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.freqs[workerID]
	if len(hist) == 0 {
		return Unknown
	}
	return hist[len(hist)-1].Value
}

// GetAllTemperature returns the latest temperature for every
// configured source, in source-declaration order — used directly as
// the thermal regression's temp_all feature vector.
func (m *Monitor) GetAllTemperature() []int64 {
	return m.latestAll(m.temps)
}

// GetAllFrequency returns the latest frequency for every configured
// source, in source-declaration order.
func (m *Monitor) GetAllFrequency() []int64 {
	return m.latestAll(m.freqs)
}

func (m *Monitor) latestAll(byWorker map[int][]Sample) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int64, len(m.sources))
	for i, src := range m.sources {
		hist := byWorker[src.WorkerID]
		if len(hist) == 0 {
			out[i] = Unknown
			continue
		}
		out[i] = hist[len(hist)-1].Value
	}
	return out
}

// GetThrottlingThreshold returns the configured hard temperature limit
// for workerID, or Unknown if the worker has no configured source.
func (m *Monitor) GetThrottlingThreshold(workerID int) int64 {
	for _, src := range m.sources {
		if src.WorkerID == workerID {
			return src.ThrottleTemp
		}
	}
	return Unknown
}

// JobThermalSnapshot is a fire-and-forget stamp of current readings,
// attached to a job record before/after invoke.
type JobThermalSnapshot struct {
	Temperature int64
	Frequency   int64
	Timestamp   time.Time
}

// FillJobInfoBefore returns the snapshot to stamp onto a job before
// invoke.
func (m *Monitor) FillJobInfoBefore(workerID int) JobThermalSnapshot {
	return JobThermalSnapshot{
		Temperature: m.GetTemperature(workerID),
		Frequency:   m.GetFrequency(workerID),
		Timestamp:   time.Now(),
	}
}

// FillJobInfoAfter returns the snapshot to stamp onto a job after
// invoke completes.
func (m *Monitor) FillJobInfoAfter(workerID int) JobThermalSnapshot {
	return m.FillJobInfoBefore(workerID)
}
