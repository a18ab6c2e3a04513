// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/tensor"
	"github.com/edgerun/plannerd/pkg/logging"
)

// Catalog is the subset of catalog behavior the queue needs to resolve
// a job's subgraph before invoking it.
type Catalog interface {
	Subgraph(idx int) *catalog.Subgraph
}

// DeviceQueueWorker owns a FIFO of jobs bound to one accelerator. It
// wakes on its SafeBool, pulls the head job, runs it to completion,
// and reports back to the planner — the "device queue" discipline of
// spec.md §4.E, one queue per physical device.
type DeviceQueueWorker struct {
	base
	catalog Catalog

	qmu   sync.Mutex
	queue []*job.Job
}

// NewDeviceQueueWorker constructs a device-queue worker for deviceID.
// monitor may be nil (no thermal/frequency features recorded); zones
// names the thermal zones this worker's cost.ModelManager registration
// used, so post-invoke readings fan out to the right regressions.
func NewDeviceQueueWorker(id, deviceID int, kind cost.WorkerKind, cat Catalog, invoker Invoker, ring *tensor.Ring, models *cost.ModelManager, planner Planner, logger logging.Logger, monitor ResourceReader, zones []string, allowWorkSteal bool, availabilityCheckInterval time.Duration) *DeviceQueueWorker {
	return &DeviceQueueWorker{
		base:    newBase(id, deviceID, kind, invoker, ring, models, planner, logger, monitor, zones, allowWorkSteal, availabilityCheckInterval),
		catalog: cat,
	}
}

// GiveJob appends j to the tail of the queue. Rejected while paused or
// while the device is unavailable (mid delegate-error recovery).
func (w *DeviceQueueWorker) GiveJob(j *job.Job) bool {
	if w.isPaused() || !w.isAvailable() {
		return false
	}

	w.qmu.Lock()
	w.queue = append(w.queue, j)
	w.qmu.Unlock()

	w.wake.Notify()
	return true
}

// GetWaitingTime is the sum of predicted latency over every queued job,
// minus elapsed progress on the head job if it is mid-invoke.
func (w *DeviceQueueWorker) GetWaitingTime() time.Duration {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return queueWaitingTime(w.queue)
}

func queueWaitingTime(queue []*job.Job) time.Duration {
	var total time.Duration
	for i, j := range queue {
		total += j.ExpectedLatency
		if i == 0 && !j.InvokeTime.IsZero() && j.EndTime.IsZero() {
			elapsed := time.Since(j.InvokeTime)
			if elapsed < total {
				total -= elapsed
			} else {
				total = 0
			}
		}
	}
	return total
}

// Start launches the worker's event loop goroutine.
func (w *DeviceQueueWorker) Start() {
	go w.loop()
}

func (w *DeviceQueueWorker) loop() {
	defer close(w.stopped)
	for {
		if !w.wake.Wait() {
			return
		}
		for !w.isPaused() {
			j := w.popHead()
			if j == nil {
				break
			}
			sg := w.catalog.Subgraph(j.SubgraphIdx)
			w.runJob(j, sg)
		}
		if w.allowWorkSteal && w.pool != nil && w.QueueEmpty() {
			w.pool.TryWorkSteal(w.id)
		}
	}
}

func (w *DeviceQueueWorker) popHead() *job.Job {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	j := w.queue[0]
	w.queue = w.queue[1:]
	return j
}

// QueueEmpty reports whether the queue currently holds no jobs, the
// precondition a work-stealing pool checks before offering this
// worker stolen work.
func (w *DeviceQueueWorker) QueueEmpty() bool {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return len(w.queue) == 0
}

// QueueLen reports how many jobs are currently queued, for metrics
// reporting; never used as a scheduling signal.
func (w *DeviceQueueWorker) QueueLen() int {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return len(w.queue)
}

// PeekTail returns the queue's tail job without removing it — a
// work-stealing candidate must never be the head (possibly mid-invoke).
func (w *DeviceQueueWorker) PeekTail() (*job.Job, bool) {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	if len(w.queue) < 2 {
		return nil, false
	}
	return w.queue[len(w.queue)-1], true
}

// StealTail removes and returns the queue's tail job, for the
// work-stealing pool to hand to an idle sibling. Refuses if the tail
// job has already started invoking (spec.md §4.E: "never reorder a
// job with invoke_time > 0").
func (w *DeviceQueueWorker) StealTail() *job.Job {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	n := len(w.queue)
	if n < 2 {
		return nil
	}
	tail := w.queue[n-1]
	if !tail.InvokeTime.IsZero() {
		return nil
	}
	w.queue = w.queue[:n-1]
	return tail
}
