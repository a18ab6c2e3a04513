// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/planner"
)

type fakeSource struct {
	ch chan planner.FinishedEvent
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan planner.FinishedEvent, 32)}
}

func (f *fakeSource) Subscribe(buffer int) (<-chan planner.FinishedEvent, func()) {
	return f.ch, func() {}
}

func (f *fakeSource) publish(j job.Job) {
	f.ch <- planner.FinishedEvent{Job: j}
}

type fakeThermal struct {
	temps     map[int]int64
	throttles map[int]int64
}

func (f *fakeThermal) GetTemperature(workerID int) int64     { return f.temps[workerID] }
func (f *fakeThermal) GetThrottlingThreshold(workerID int) int64 { return f.throttles[workerID] }

func waitForSamples(t *testing.T, c *Collector, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		count := len(c.samples)
		c.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d samples", n)
}

func TestCollector_SnapshotComputesSLOHitRateAndThroughput(t *testing.T) {
	src := newFakeSource()
	thermal := &fakeThermal{temps: map[int]int64{1: 40000}, throttles: map[int]int64{1: 80000}}
	c := NewCollector(src, thermal, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	now := time.Now()
	src.publish(job.Job{JobID: 1, WorkerID: 1, ModelID: 7, Status: job.StatusSuccess, EndTime: now})
	src.publish(job.Job{JobID: 2, WorkerID: 1, ModelID: 7, Status: job.StatusSuccess, EndTime: now})
	src.publish(job.Job{JobID: 3, WorkerID: 1, ModelID: 7, Status: job.StatusSLOViolation, EndTime: now})
	waitForSamples(t, c, 3)

	report := c.Snapshot(now)
	require.Len(t, report.Workers, 1)
	w := report.Workers[0]
	assert.Equal(t, 1, w.WorkerID)
	assert.Equal(t, int64(3), w.Completed)
	assert.Equal(t, int64(1), w.SLOViolations)
	assert.InDelta(t, 2.0/3.0, w.SLOHitRate, 0.001)
	assert.Equal(t, int64(40000), w.ThermalHeadroom)
}

func TestCollector_PrunesOldSamples(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(src, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	old := time.Now().Add(-time.Hour)
	src.publish(job.Job{JobID: 1, WorkerID: 1, Status: job.StatusSuccess, EndTime: old})
	waitForSamples(t, c, 1)

	report := c.Snapshot(time.Now())
	assert.Empty(t, report.Workers)
}

func TestCollector_IdleRatioFromRegisteredProbe(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(src, nil, time.Minute)
	c.RegisterWorker(2, func() bool { return true })

	report := c.Snapshot(time.Now())
	require.Len(t, report.Workers, 1)
	assert.Equal(t, 1.0, report.Workers[0].IdleRatio)
	assert.Equal(t, int64(0), report.Workers[0].Completed)
}
