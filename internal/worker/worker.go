// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/resource"
	"github.com/edgerun/plannerd/internal/syncutil"
	"github.com/edgerun/plannerd/internal/tensor"
	rterrors "github.com/edgerun/plannerd/pkg/errors"
	"github.com/edgerun/plannerd/pkg/logging"
)

// ResourceReader is the subset of internal/resource.Monitor runJob
// samples to stamp real temperature/frequency features onto each
// cost.Observation instead of leaving them at their zero value.
type ResourceReader interface {
	FillJobInfoBefore(workerID int) resource.JobThermalSnapshot
	FillJobInfoAfter(workerID int) resource.JobThermalSnapshot
	GetAllTemperature() []int64
	GetAllFrequency() []int64
}

// Invoker executes one subgraph. The actual tensor kernels, delegate
// bindings, and JNI/C shims live outside this module (spec.md §1 —
// "deliberately out of scope"); Invoker is the seam the core consumes.
type Invoker interface {
	// Invoke runs sg for j. A KindDelegateError RuntimeError means the
	// device itself failed and is recoverable via the worker's
	// availability loop; any other error is a terminal invoke_failure.
	Invoke(j *job.Job, sg *catalog.Subgraph) error
	// Available reports whether the device currently responds to a
	// trivial invoke, used by WaitUntilDeviceAvailable.
	Available() bool
}

// Planner is the subset of planner behavior a worker calls back into
// on completion.
type Planner interface {
	EnqueueFinishedJob(j *job.Job)
	EnqueueFollowingJobs(jobs []*job.Job)
	// RekeyLatency returns the predicted latency if job j were run on
	// candidateWorker instead, used by work stealing.
	RekeyLatency(j *job.Job, candidateWorker int) (time.Duration, bool)
}

// Worker is the shared contract both queue disciplines satisfy.
type Worker interface {
	ID() int
	GiveJob(j *job.Job) bool
	GetWaitingTime() time.Duration
	Pause()
	Resume()
	SetPendingAffinity(cpus CpuSet, numThreads int)
	Start()
	Stop()
}

// base holds the state and loop machinery common to both worker kinds.
type base struct {
	id       int
	deviceID int
	kind     cost.WorkerKind

	invoker  Invoker
	ring     *tensor.Ring
	models   *cost.ModelManager
	planner  Planner
	logger   logging.Logger
	monitor  ResourceReader
	zones    []string

	wake *syncutil.SafeBool

	mu                        sync.Mutex
	paused                    bool
	available                 bool
	pendingCPUSet             *CpuSet
	pendingNumThreads         int
	allowWorkSteal            bool
	availabilityCheckInterval time.Duration
	pool                      *Pool

	stopped chan struct{}
}

// SetPool wires the work-stealing coordinator this worker participates
// in. Only device-queue workers steal; global-queue workers hold at
// most one job and so are never stealing sources or destinations.
func (b *base) SetPool(p *Pool) {
	b.pool = p
}

func newBase(id, deviceID int, kind cost.WorkerKind, invoker Invoker, ring *tensor.Ring, models *cost.ModelManager, planner Planner, logger logging.Logger, monitor ResourceReader, zones []string, allowWorkSteal bool, availabilityCheckInterval time.Duration) base {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return base{
		id:                        id,
		deviceID:                  deviceID,
		kind:                      kind,
		invoker:                   invoker,
		ring:                      ring,
		models:                    models,
		planner:                   planner,
		logger:                    logger,
		monitor:                   monitor,
		zones:                     zones,
		wake:                      syncutil.New(),
		available:                 true,
		allowWorkSteal:            allowWorkSteal,
		availabilityCheckInterval: availabilityCheckInterval,
		stopped:                   make(chan struct{}),
	}
}

func (b *base) ID() int { return b.id }

func (b *base) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

func (b *base) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	b.wake.Notify()
}

func (b *base) SetPendingAffinity(cpus CpuSet, numThreads int) {
	b.mu.Lock()
	b.pendingCPUSet = &cpus
	b.pendingNumThreads = numThreads
	b.mu.Unlock()
}

func (b *base) Stop() {
	b.wake.Terminate()
	<-b.stopped
}

// applyPendingAffinity installs any pending CPU/thread-count change
// (TryUpdateWorkerThread, per spec.md §4.E step 4).
func (b *base) applyPendingAffinity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingCPUSet != nil {
		// actual thread pinning is a syscall seam outside this module's
		// scope; we only track the intended state here.
		b.pendingCPUSet = nil
	}
}

// tryCopyInputTensors resolves j's subgraph inputs from either a prior
// subgraph's output in the same request, or the caller-supplied input
// handle. Fails with KindInputCopyFailure if neither resolves.
func (b *base) tryCopyInputTensors(j *job.Job) error {
	if j.InputHandle != job.NoHandle {
		if _, err := b.ring.GetAll(j.InputHandle); err != nil {
			return rterrors.Wrap(rterrors.KindInputCopyFailure, "input handle unreadable", err)
		}
		return nil
	}
	if len(j.ResolvedTensors) > 0 {
		return nil
	}
	return rterrors.New(rterrors.KindInputCopyFailure, "no resolvable input for subgraph")
}

// tryCopyOutputTensors writes an empty tensor list to j's output
// handle, if one was requested. Invoker.Invoke returns no output
// tensors, so no invoke results are copied into the slot.
func (b *base) tryCopyOutputTensors(j *job.Job) error {
	if j.OutputHandle == job.NoHandle {
		return nil
	}
	if err := b.ring.Put(j.OutputHandle, nil); err != nil {
		return rterrors.Wrap(rterrors.KindOutputCopyFailure, "output handle write failed", err)
	}
	return nil
}

// runJob executes the full per-job state machine of spec.md §4.E
// steps 3-9 and reports the outcome to the planner (a finished job or
// a continuation); it has no return value.
func (b *base) runJob(j *job.Job, sg *catalog.Subgraph) {
	b.applyPendingAffinity()

	if err := b.tryCopyInputTensors(j); err != nil {
		j.Status = job.StatusInputCopyFailure
		j.EndTime = time.Now()
		b.planner.EnqueueFinishedJob(j)
		return
	}

	if inputs, err := b.ring.GetAll(j.InputHandle); err == nil {
		j.InputBytes = tensor.TotalBytes(inputs)
	}
	tempBefore := b.temperatureSnapshot()

	j.InvokeTime = time.Now()
	err := b.invoker.Invoke(j, sg)

	if err == nil {
		j.EndTime = time.Now()
		latency := j.EndTime.Sub(j.InvokeTime)
		j.ProfiledLatency = latency
		if j.ComputationTime == 0 {
			j.ComputationTime = latency
		}

		obs := cost.Observation{
			ModelID:         j.ModelID,
			OpCount:         sg.OpCount(),
			InputBytes:      j.InputBytes,
			OutputBytes:     j.OutputBytes,
			Latency:         latency,
			ComputationTime: j.ComputationTime,
			TempAllBefore:   tempBefore,
			FreqAll:         b.frequencySnapshot(),
			WaitingTime:     j.InvokeTime.Sub(j.EnqueueTime),
		}
		b.models.Update(b.id, obs, b.temperatureAfter())

		if err := b.tryCopyOutputTensors(j); err != nil {
			j.Status = job.StatusOutputCopyFailure
			b.planner.EnqueueFinishedJob(j)
			return
		}

		if sg.Next != nil {
			b.planner.EnqueueFollowingJobs([]*job.Job{continuationJob(j)})
			return
		}

		j.Status = job.StatusSuccess
		if len(j.FollowingJobs) > 0 {
			b.planner.EnqueueFollowingJobs(j.FollowingJobs)
		}
		b.planner.EnqueueFinishedJob(j)
		return
	}

	if rterrors.IsKind(err, rterrors.KindDelegateError) {
		b.handleDelegateError(j)
		return
	}

	j.Status = job.StatusInvokeFailure
	j.EndTime = time.Now()
	b.planner.EnqueueFinishedJob(j)
}

// temperatureSnapshot returns the current per-source temperature
// vector, the ThermalModel's temp_all_before feature. Returns nil if
// this worker has no resource monitor wired.
func (b *base) temperatureSnapshot() []int64 {
	if b.monitor == nil {
		return nil
	}
	return b.monitor.GetAllTemperature()
}

// frequencySnapshot returns the current per-source frequency vector,
// the ThermalModel's freq_all feature.
func (b *base) frequencySnapshot() []int64 {
	if b.monitor == nil {
		return nil
	}
	return b.monitor.GetAllFrequency()
}

// temperatureAfter samples this worker's post-invoke temperature and
// fans it out to every zone this worker's ThermalModel was registered
// with (cost.ModelManager.RegisterWorker), since the monitor only
// keeps one reading per device while a worker may cover several named
// zones sharing that sensor.
func (b *base) temperatureAfter() map[string]int64 {
	if b.monitor == nil || len(b.zones) == 0 {
		return nil
	}
	temp := b.monitor.FillJobInfoAfter(b.deviceID).Temperature
	out := make(map[string]int64, len(b.zones))
	for _, z := range b.zones {
		out[z] = temp
	}
	return out
}

// continuationJob builds the next job in a fallback chain: same
// logical request (JobID/RequestID/SLOMicros/EnqueueTime carried
// over), resumed from wherever j's subgraph left off. Leaving
// SubgraphIdx/WorkerID unassigned lets the scheduler place it on
// whichever worker candidatesFor (internal/scheduler) turns up next,
// rather than pinning it to sg.Next's worker.
func continuationJob(j *job.Job) *job.Job {
	previous := make([]int, len(j.PreviousSubgraphIndices), len(j.PreviousSubgraphIndices)+1)
	copy(previous, j.PreviousSubgraphIndices)
	previous = append(previous, j.SubgraphIdx)

	return &job.Job{
		JobID:                   j.JobID,
		RequestID:               j.RequestID,
		ModelID:                 j.ModelID,
		SLOMicros:               j.SLOMicros,
		EnqueueTime:             j.EnqueueTime,
		Status:                  job.StatusQueued,
		SubgraphIdx:             job.NoSubgraph,
		WorkerID:                -1,
		InputHandle:             j.OutputHandle,
		OutputHandle:            j.OutputHandle,
		ResolvedTensors:         j.ResolvedTensors,
		PreviousSubgraphIndices: previous,
		// the continuation's input is the prior subgraph's output, so
		// scheduling it is no longer a cold, zero-byte estimate.
		InputBytes: j.OutputBytes,
	}
}

// handleDelegateError handles a delegate_error: it marks the worker
// unavailable, reports the failed job as invoke_failure, and polls
// waitUntilDeviceAvailable before resuming. Jobs still queued on the
// worker stay in its queue and are not returned to the planner.
func (b *base) handleDelegateError(failed *job.Job) {
	b.mu.Lock()
	b.available = false
	b.mu.Unlock()

	failed.Status = job.StatusInvokeFailure
	failed.EndTime = time.Now()
	b.planner.EnqueueFinishedJob(failed)

	b.waitUntilDeviceAvailable()

	b.mu.Lock()
	b.available = true
	b.mu.Unlock()
}

func (b *base) waitUntilDeviceAvailable() {
	interval := b.availabilityCheckInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for !b.invoker.Available() {
		select {
		case <-b.stopped:
			return
		case <-time.After(interval):
		}
	}
}

func (b *base) isAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

func (b *base) isPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}
