// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/tensor"
	"github.com/edgerun/plannerd/pkg/logging"
)

// GlobalQueueWorker holds exactly one job at a time (is_busy), for the
// global-queue scheduling discipline where the scheduler itself decides
// which single device gets the next job rather than relying on
// per-device backlogs, per spec.md §4.E.
type GlobalQueueWorker struct {
	base
	catalog Catalog

	mu      sync.Mutex
	current *job.Job
	busy    bool
}

// NewGlobalQueueWorker constructs a global-queue worker for deviceID.
// monitor may be nil; zones names the thermal zones this worker's
// cost.ModelManager registration used.
func NewGlobalQueueWorker(id, deviceID int, kind cost.WorkerKind, cat Catalog, invoker Invoker, ring *tensor.Ring, models *cost.ModelManager, planner Planner, logger logging.Logger, monitor ResourceReader, zones []string, allowWorkSteal bool, availabilityCheckInterval time.Duration) *GlobalQueueWorker {
	return &GlobalQueueWorker{
		base:    newBase(id, deviceID, kind, invoker, ring, models, planner, logger, monitor, zones, allowWorkSteal, availabilityCheckInterval),
		catalog: cat,
	}
}

// GiveJob installs j as the current job. Rejected if the worker is
// paused, unavailable, or already busy.
func (w *GlobalQueueWorker) GiveJob(j *job.Job) bool {
	if w.isPaused() || !w.isAvailable() {
		return false
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return false
	}
	w.busy = true
	w.current = j
	w.mu.Unlock()

	w.wake.Notify()
	return true
}

// GetWaitingTime is the predicted latency of the current job minus
// elapsed progress if it is mid-invoke, or zero if idle.
func (w *GlobalQueueWorker) GetWaitingTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return 0
	}
	remaining := w.current.ExpectedLatency
	if !w.current.InvokeTime.IsZero() && w.current.EndTime.IsZero() {
		elapsed := time.Since(w.current.InvokeTime)
		if elapsed < remaining {
			remaining -= elapsed
		} else {
			remaining = 0
		}
	}
	return remaining
}

// IsBusy reports whether a job currently occupies this worker.
func (w *GlobalQueueWorker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Start launches the worker's event loop goroutine.
func (w *GlobalQueueWorker) Start() {
	go w.loop()
}

func (w *GlobalQueueWorker) loop() {
	defer close(w.stopped)
	for {
		if !w.wake.Wait() {
			return
		}
		if w.isPaused() {
			continue
		}
		j := w.takeCurrent()
		if j == nil {
			continue
		}
		sg := w.catalog.Subgraph(j.SubgraphIdx)
		w.runJob(j, sg)
		w.clearBusy()
	}
}

func (w *GlobalQueueWorker) takeCurrent() *job.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *GlobalQueueWorker) clearBusy() {
	w.mu.Lock()
	w.current = nil
	w.busy = false
	w.mu.Unlock()
}
