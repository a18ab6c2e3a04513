// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package planner implements the process-global request queue,
// cooperative scheduling loop, and completion tracking described in
// spec.md §4.F.
package planner

import (
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/scheduler"
	"github.com/edgerun/plannerd/internal/syncutil"
	"github.com/edgerun/plannerd/internal/tensor"
	"github.com/edgerun/plannerd/pkg/logging"
)

const numFinishedRecords = 1000

// Worker is the subset of internal/worker.Worker the planner dispatches
// through; kept narrow so planner doesn't import the worker package's
// goroutine-lifecycle methods it never calls.
type Worker interface {
	ID() int
	GiveJob(j *job.Job) bool
	GetWaitingTime() time.Duration
}

// WorkerInfo pairs a dispatchable Worker with the static facts the
// scheduler needs about it (queue discipline, idleness probe).
type WorkerInfo struct {
	Worker     Worker
	Type       scheduler.WorkerType
	IsIdleFunc func() bool
}

// FinishedEvent is published to subscribers on every job completion.
type FinishedEvent struct {
	Job job.Job
}

// Planner is a process-global singleton coordinating job intake,
// scheduling, and completion tracking.
type Planner struct {
	logger logging.Logger

	catalog *catalog.Catalog
	models  *cost.ModelManager
	ring    *tensor.Ring

	scheduleWindowSize int
	modelDeviceMap     map[int]int

	workers   map[int]WorkerInfo
	schedulers []scheduler.Scheduler

	wake *syncutil.SafeBool

	reqMu      sync.Mutex
	reqCond    *sync.Cond
	requestQ   []*job.Job
	nextJobID  int64
	numSubmit  int64

	finMu     sync.Mutex
	finCond   *sync.Cond
	finished  *job.FinishedRing
	numFin    int64

	subMu sync.Mutex
	subs  []chan FinishedEvent

	joblog *JobLog

	latencyCache latencyPredictor
}

// Option configures a Planner at construction time.
type Option func(*Planner)

// WithJobLog attaches a tab-separated job-log writer (spec.md §6).
func WithJobLog(jl *JobLog) Option {
	return func(p *Planner) { p.joblog = jl }
}

// latencyPredictor is the slice of pkg/cache.PredictionCache RekeyLatency
// uses when present, instead of calling straight through to models.
type latencyPredictor interface {
	GetPredictedLatency(workerID, subgraphIdx, modelID int, inputBytes, outputBytes int64) time.Duration
}

// WithLatencyCache makes RekeyLatency's work-stealing rekey query go
// through a memoizing cache instead of recomputing the regression on
// every candidate-worker probe.
func WithLatencyCache(c latencyPredictor) Option {
	return func(p *Planner) { p.latencyCache = c }
}

// New creates a Planner. schedulers run in the given priority order on
// every iteration of the main loop.
func New(cat *catalog.Catalog, models *cost.ModelManager, ring *tensor.Ring, schedulers []scheduler.Scheduler, scheduleWindowSize int, modelDeviceMap map[int]int, logger logging.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if scheduleWindowSize <= 0 {
		scheduleWindowSize = 32
	}
	p := &Planner{
		logger:             logger,
		catalog:            cat,
		models:             models,
		ring:               ring,
		scheduleWindowSize: scheduleWindowSize,
		modelDeviceMap:     modelDeviceMap,
		workers:            make(map[int]WorkerInfo),
		schedulers:         schedulers,
		wake:               syncutil.New(),
		finished:           job.NewFinishedRing(numFinishedRecords),
	}
	p.reqCond = sync.NewCond(&p.reqMu)
	p.finCond = sync.NewCond(&p.finMu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterWorker makes w a dispatch target for schedulers whose
// WorkerType matches info.Type.
func (p *Planner) RegisterWorker(info WorkerInfo) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	p.workers[info.Worker.ID()] = info
}

// EnqueueRequest assigns job_id/enqueue_time if unset, copies input
// tensors into the ring buffer if requested, appends to the request
// queue, and wakes the main loop. Returns the input handle (possibly
// newly allocated) the caller's tensors now live at.
func (p *Planner) EnqueueRequest(j *job.Job, inputTensors []tensor.Tensor) int64 {
	p.reqMu.Lock()
	if j.JobID == 0 {
		p.nextJobID++
		j.JobID = p.nextJobID
	}
	if j.EnqueueTime.IsZero() {
		j.EnqueueTime = time.Now()
	}
	if j.InputHandle == job.NoHandle && inputTensors != nil {
		h := p.ring.Alloc()
		_ = p.ring.Put(h, inputTensors)
		j.InputHandle = h
	}
	p.requestQ = append(p.requestQ, j)
	// A fallback-chain continuation carries its request's JobID and the
	// chain finishes once, so it is not counted as a new submission.
	if len(j.PreviousSubgraphIndices) == 0 {
		p.numSubmit++
	}
	p.reqMu.Unlock()

	p.wake.Notify()
	return j.InputHandle
}

// EnqueueBatch enqueues every job in jobs, in order.
func (p *Planner) EnqueueBatch(jobs []*job.Job) {
	for _, j := range jobs {
		p.EnqueueRequest(j, nil)
	}
}

// EnqueueFollowingJobs is the worker-facing hook (internal/worker.Planner)
// for continuation subgraphs spawned after a subgraph completes.
func (p *Planner) EnqueueFollowingJobs(jobs []*job.Job) {
	p.EnqueueBatch(jobs)
}

// EnqueueFinishedJob records j's terminal state and wakes anyone
// blocked on Wait/WaitAll, plus the main loop (so a now-idle worker's
// capacity is reconsidered promptly).
func (p *Planner) EnqueueFinishedJob(j *job.Job) {
	p.finMu.Lock()
	p.finished.Put(*j)
	p.numFin++
	p.finCond.Broadcast()
	p.finMu.Unlock()

	if p.joblog != nil {
		p.joblog.Write(*j)
	}
	p.publish(FinishedEvent{Job: *j})
	p.wake.Notify()
}

// RekeyLatency is the worker-facing hook used by work stealing: the
// predicted latency job j would see if placed on candidateWorker.
func (p *Planner) RekeyLatency(j *job.Job, candidateWorker int) (time.Duration, bool) {
	if _, ok := p.workers[candidateWorker]; !ok {
		return 0, false
	}
	if p.latencyCache != nil {
		return p.latencyCache.GetPredictedLatency(candidateWorker, j.SubgraphIdx, j.ModelID, j.InputBytes, j.OutputBytes), true
	}
	return p.models.GetPredictedLatency(candidateWorker, j.ModelID, j.InputBytes, j.OutputBytes), true
}

// Wait blocks until every id in ids has a finished record.
func (p *Planner) Wait(ids []int64) {
	pending := make(map[int64]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	p.finMu.Lock()
	defer p.finMu.Unlock()
	for len(pending) > 0 {
		for id := range pending {
			if _, ok := p.finished.Get(id); ok {
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			return
		}
		p.finCond.Wait()
	}
}

// WaitAll blocks until every submitted job has completed.
func (p *Planner) WaitAll() {
	p.finMu.Lock()
	defer p.finMu.Unlock()
	for p.numFin < p.submittedCount() {
		p.finCond.Wait()
	}
}

func (p *Planner) submittedCount() int64 {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	return p.numSubmit
}

// GetFinishedJob returns the stored terminal Job for id, or the
// sentinel empty Job if it hasn't completed (or never existed).
func (p *Planner) GetFinishedJob(id int64) job.Job {
	p.finMu.Lock()
	defer p.finMu.Unlock()
	j, ok := p.finished.Get(id)
	if !ok {
		return job.Job{}
	}
	return j
}

// Subscribe returns a channel of FinishedEvent and a cancel function;
// purely observational (pkg/watch's transport layer), never a dispatch
// path.
func (p *Planner) Subscribe(buffer int) (<-chan FinishedEvent, func()) {
	ch := make(chan FinishedEvent, buffer)
	p.subMu.Lock()
	p.subs = append(p.subs, ch)
	p.subMu.Unlock()

	cancel := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		for i, c := range p.subs {
			if c == ch {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (p *Planner) publish(ev FinishedEvent) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			// a slow subscriber drops events rather than stalling the planner
		}
	}
}

// Run executes the main loop on the calling goroutine and returns once
// Stop is called.
func (p *Planner) Run() {
	for {
		if !p.wake.Wait() {
			return
		}
		p.tick()
	}
}

// Stop terminates the main loop.
func (p *Planner) Stop() {
	p.wake.Terminate()
}

// tick is one iteration of spec.md §4.F's main loop: drain up to
// scheduleWindowSize jobs, run every scheduler in priority order, and
// push back whatever no worker accepted.
func (p *Planner) tick() {
	local := p.drainLocal()
	if len(local) == 0 {
		return
	}

	for _, sched := range p.schedulers {
		if len(local) == 0 {
			break
		}
		ctx := p.buildContext(local, sched.WorkerType())
		action := sched.Schedule(ctx)

		for _, j := range action.Violated {
			p.EnqueueFinishedJob(j)
		}

		var unaccepted []*job.Job
		for workerID, placements := range action.Dispatch {
			w, ok := p.workers[workerID]
			if !ok {
				for _, pl := range placements {
					unaccepted = append(unaccepted, pl.Job)
				}
				continue
			}
			for _, pl := range placements {
				pl.Job.SubgraphIdx = pl.SubgraphIdx
				pl.Job.WorkerID = workerID
				if !w.Worker.GiveJob(pl.Job) {
					unaccepted = append(unaccepted, pl.Job)
				}
			}
		}
		local = append(action.Yielded, unaccepted...)
	}

	if len(local) > 0 {
		p.requeueFront(local)
	}
}

func (p *Planner) drainLocal() []*job.Job {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	n := len(p.requestQ)
	if n > p.scheduleWindowSize {
		n = p.scheduleWindowSize
	}
	local := p.requestQ[:n]
	p.requestQ = p.requestQ[n:]
	return local
}

func (p *Planner) requeueFront(jobs []*job.Job) {
	p.reqMu.Lock()
	p.requestQ = append(jobs, p.requestQ...)
	p.reqMu.Unlock()
	p.wake.Notify()
}

func (p *Planner) buildContext(local []*job.Job, wantType scheduler.WorkerType) *scheduler.Context {
	p.reqMu.Lock()
	views := make([]scheduler.WorkerView, 0, len(p.workers))
	for id, info := range p.workers {
		if info.Type != wantType {
			continue
		}
		idle := true
		if info.IsIdleFunc != nil {
			idle = info.IsIdleFunc()
		}
		views = append(views, scheduler.WorkerView{
			ID:          id,
			Type:        info.Type,
			WaitingTime: info.Worker.GetWaitingTime(),
			Idle:        idle,
		})
	}
	p.reqMu.Unlock()

	return &scheduler.Context{
		Now:            time.Now(),
		LocalQueue:     local,
		Workers:        views,
		Catalog:        p.catalog,
		Models:         p.models,
		ModelDeviceMap: p.modelDeviceMap,
	}
}
