// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"math/rand"
	"sort"
	"time"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
)

// candidatesFor lists the subgraphs j could run next: from op 0 for a
// fresh job, or continuing from wherever its last completed subgraph
// left off.
func candidatesFor(ctx *Context, j *job.Job) []*catalog.Subgraph {
	startOp := 0
	if n := len(j.PreviousSubgraphIndices); n > 0 {
		if sg := ctx.Catalog.Subgraph(j.PreviousSubgraphIndices[n-1]); sg != nil {
			startOp = sg.EndOp + 1
		}
	}
	return ctx.Catalog.GetSubgraphCandidates(j.ModelID, startOp)
}

// candidateOn returns the candidate subgraph of j bound to workerID,
// if one exists.
func candidateOn(ctx *Context, j *job.Job, workerID int) *catalog.Subgraph {
	for _, sg := range candidatesFor(ctx, j) {
		if sg.Key.WorkerID == workerID {
			return sg
		}
	}
	return nil
}

// finishOrViolate evaluates placing j on worker w via sg with the
// given predicted latency; it either records a dispatch into act and
// returns true, or marks j slo_violation and returns false.
func finishOrViolate(ctx *Context, act *Action, w WorkerView, j *job.Job, sg *catalog.Subgraph, predicted time.Duration) bool {
	finish := earliestFinish(ctx.Now, w, predicted)
	if wouldMissSLO(j, finish) {
		j.Status = job.StatusSLOViolation
		j.EndTime = ctx.Now
		act.Violated = append(act.Violated, j)
		return false
	}
	j.ExpectedLatency = predicted
	act.place(w.ID, j, sg.Idx)
	return true
}

// --- FixedDevice (id 0) ---------------------------------------------

// FixedDeviceScheduler routes each job to the worker requested in its
// own WorkerID, or, if none was requested, to the model's entry in
// ModelDeviceMap.
type FixedDeviceScheduler struct{}

func NewFixedDeviceScheduler() *FixedDeviceScheduler { return &FixedDeviceScheduler{} }

func (s *FixedDeviceScheduler) ID() int                     { return IDFixedDevice }
func (s *FixedDeviceScheduler) NeedProfile() bool           { return false }
func (s *FixedDeviceScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *FixedDeviceScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *FixedDeviceScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	for _, j := range ctx.LocalQueue {
		target := j.WorkerID
		if target < 0 {
			if t, ok := ctx.ModelDeviceMap[j.ModelID]; ok {
				target = t
			}
		}
		if target < 0 {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		w, ok := ctx.worker(target)
		if !ok || w.Type != DeviceQueue {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		sg := candidateOn(ctx, j, target)
		if sg == nil {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		predicted := ctx.Models.GetPredictedLatency(target, j.ModelID, j.InputBytes, j.OutputBytes)
		finishOrViolate(ctx, &act, w, j, sg, predicted)
	}
	return act
}

// --- FixedDeviceGlobalQueue (id 3) -----------------------------------

// FixedDeviceGlobalQueueScheduler is FixedDevice restricted to the
// single-slot global-queue workers, and only while the target is idle
// — a busy global-queue worker simply means "try again next tick".
type FixedDeviceGlobalQueueScheduler struct{}

func NewFixedDeviceGlobalQueueScheduler() *FixedDeviceGlobalQueueScheduler {
	return &FixedDeviceGlobalQueueScheduler{}
}

func (s *FixedDeviceGlobalQueueScheduler) ID() int                     { return IDFixedDeviceGlobalQueue }
func (s *FixedDeviceGlobalQueueScheduler) NeedProfile() bool           { return false }
func (s *FixedDeviceGlobalQueueScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *FixedDeviceGlobalQueueScheduler) WorkerType() WorkerType      { return GlobalQueue }

func (s *FixedDeviceGlobalQueueScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	for _, j := range ctx.LocalQueue {
		target := j.WorkerID
		if target < 0 {
			if t, ok := ctx.ModelDeviceMap[j.ModelID]; ok {
				target = t
			}
		}
		if target < 0 {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		w, ok := ctx.worker(target)
		if !ok || w.Type != GlobalQueue || !w.Idle {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		sg := candidateOn(ctx, j, target)
		if sg == nil {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		predicted := ctx.Models.GetPredictedLatency(target, j.ModelID, j.InputBytes, j.OutputBytes)
		finishOrViolate(ctx, &act, w, j, sg, predicted)
	}
	return act
}

// --- RoundRobin (id 1) ------------------------------------------------

// RoundRobinScheduler hands each idle worker the first queued job it
// can run, in local-queue order.
type RoundRobinScheduler struct{}

func NewRoundRobinScheduler() *RoundRobinScheduler { return &RoundRobinScheduler{} }

func (s *RoundRobinScheduler) ID() int                     { return IDRoundRobin }
func (s *RoundRobinScheduler) NeedProfile() bool           { return false }
func (s *RoundRobinScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *RoundRobinScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *RoundRobinScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	taken := make(map[int64]bool)

	for _, w := range ctx.Workers {
		if w.Type != DeviceQueue || !w.Idle {
			continue
		}
		for _, j := range ctx.LocalQueue {
			if taken[j.JobID] {
				continue
			}
			sg := candidateOn(ctx, j, w.ID)
			if sg == nil {
				continue
			}
			predicted := ctx.Models.GetPredictedLatency(w.ID, j.ModelID, j.InputBytes, j.OutputBytes)
			finishOrViolate(ctx, &act, w, j, sg, predicted)
			taken[j.JobID] = true
			break
		}
	}
	for _, j := range ctx.LocalQueue {
		if !taken[j.JobID] {
			act.Yielded = append(act.Yielded, j)
		}
	}
	return act
}

// --- ShortestExpectedLatency (id 2) -----------------------------------

// ShortestExpectedLatencyScheduler places each job on whichever
// (worker, subgraph) candidate minimizes max(now, worker_waiting) +
// predicted_latency, considering continuation subgraphs recursively.
type ShortestExpectedLatencyScheduler struct{}

func NewShortestExpectedLatencyScheduler() *ShortestExpectedLatencyScheduler {
	return &ShortestExpectedLatencyScheduler{}
}

func (s *ShortestExpectedLatencyScheduler) ID() int                     { return IDShortestExpectedLatency }
func (s *ShortestExpectedLatencyScheduler) NeedProfile() bool           { return true }
func (s *ShortestExpectedLatencyScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *ShortestExpectedLatencyScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *ShortestExpectedLatencyScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	for _, j := range ctx.LocalQueue {
		w, sg, predicted, ok := bestPlacement(ctx, j)
		if !ok {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		finishOrViolate(ctx, &act, w, j, sg, predicted)
	}
	return act
}

// bestPlacement walks j's subgraph chain (current candidate plus its
// continuations) summing predicted latency at each step on top of the
// first-hop worker's current backlog, and returns the first-hop
// (worker, subgraph) of whichever full chain finishes earliest — the "recursive look-ahead" spec.md calls for.
func bestPlacement(ctx *Context, j *job.Job) (WorkerView, *catalog.Subgraph, time.Duration, bool) {
	cands := candidatesFor(ctx, j)
	var bestW WorkerView
	var bestSG *catalog.Subgraph
	bestTotal := time.Duration(-1)
	var bestFirstHop time.Duration

	for _, sg := range cands {
		w, ok := ctx.worker(sg.Key.WorkerID)
		if !ok || w.Type != DeviceQueue {
			continue
		}
		firstHop := ctx.Models.GetPredictedLatency(w.ID, j.ModelID, j.InputBytes, j.OutputBytes)
		total := chainLatency(ctx, sg, firstHop)
		if w.WaitingTime > 0 {
			total += w.WaitingTime
		}
		if bestTotal == -1 || total < bestTotal {
			bestTotal = total
			bestFirstHop = firstHop
			bestW = w
			bestSG = sg
		}
	}
	if bestSG == nil {
		return WorkerView{}, nil, 0, false
	}
	return bestW, bestSG, bestFirstHop, true
}

// chainLatency sums firstHop's latency plus every continuation
// subgraph's own predicted latency on its bound worker. Continuation
// hops haven't run yet, so unlike firstHop there is no real transfer
// size to pass here; they cost in at the regression's zero-byte
// baseline rather than a fabricated guess.
func chainLatency(ctx *Context, sg *catalog.Subgraph, firstHop time.Duration) time.Duration {
	total := firstHop
	for cur := sg.Next; cur != nil; cur = cur.Next {
		total += ctx.Models.GetPredictedLatency(cur.Key.WorkerID, cur.Key.ModelID, 0, 0)
	}
	return total
}

// --- HEFT (id 4) / HEFT-Reserved (id 5) --------------------------------

// HEFTScheduler is ShortestExpectedLatency with a stable windowed view;
// the planner itself supplies the stable window (ctx.LocalQueue is
// already a fixed snapshot for this call), so HEFT's placement search
// is identical to SEL's.
type HEFTScheduler struct{}

func NewHEFTScheduler() *HEFTScheduler { return &HEFTScheduler{} }

func (s *HEFTScheduler) ID() int                     { return IDHEFT }
func (s *HEFTScheduler) NeedProfile() bool           { return true }
func (s *HEFTScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *HEFTScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *HEFTScheduler) Schedule(ctx *Context) Action {
	return (&ShortestExpectedLatencyScheduler{}).Schedule(ctx)
}

// HEFTReservedScheduler additionally reserves the chosen worker's
// predicted latency for the remainder of this Schedule call, so later
// jobs in the same batch see the accumulated backlog instead of all
// racing for the same "currently idle" worker.
type HEFTReservedScheduler struct{}

func NewHEFTReservedScheduler() *HEFTReservedScheduler { return &HEFTReservedScheduler{} }

func (s *HEFTReservedScheduler) ID() int                     { return IDHEFTReserved }
func (s *HEFTReservedScheduler) NeedProfile() bool           { return true }
func (s *HEFTReservedScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *HEFTReservedScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *HEFTReservedScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	reserved := make(map[int]time.Duration, len(ctx.Workers))

	for _, j := range ctx.LocalQueue {
		localCtx := *ctx
		localCtx.Workers = applyReservations(ctx.Workers, reserved)

		w, sg, predicted, ok := bestPlacement(&localCtx, j)
		if !ok {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		if finishOrViolate(ctx, &act, w, j, sg, predicted) {
			reserved[w.ID] += predicted
		}
	}
	return act
}

func applyReservations(workers []WorkerView, reserved map[int]time.Duration) []WorkerView {
	out := make([]WorkerView, len(workers))
	for i, w := range workers {
		w.WaitingTime += reserved[w.ID]
		out[i] = w
	}
	return out
}

// --- LeastSlackFirst (id 6) -------------------------------------------

// LeastSlackFirstScheduler sorts the local queue by slack ascending
// (deadline - now - remaining predicted latency) and places the
// tightest jobs first using the same placement search as SEL.
type LeastSlackFirstScheduler struct{}

func NewLeastSlackFirstScheduler() *LeastSlackFirstScheduler { return &LeastSlackFirstScheduler{} }

func (s *LeastSlackFirstScheduler) ID() int                     { return IDLeastSlackFirst }
func (s *LeastSlackFirstScheduler) NeedProfile() bool           { return true }
func (s *LeastSlackFirstScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *LeastSlackFirstScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *LeastSlackFirstScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	queue := make([]*job.Job, len(ctx.LocalQueue))
	copy(queue, ctx.LocalQueue)

	sort.SliceStable(queue, func(i, k int) bool {
		return slack(ctx, queue[i]) < slack(ctx, queue[k])
	})

	for _, j := range queue {
		w, sg, predicted, ok := bestPlacement(ctx, j)
		if !ok {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		finishOrViolate(ctx, &act, w, j, sg, predicted)
	}
	return act
}

func slack(ctx *Context, j *job.Job) time.Duration {
	if !j.HasSLO() {
		return time.Duration(1<<62 - 1)
	}
	_, _, predicted, ok := bestPlacement(ctx, j)
	if !ok {
		predicted = 0
	}
	finish := ctx.Now.Add(predicted)
	return slackFor(j, ctx.Now, finish)
}

// --- ThermalAware (id 7) ------------------------------------------------

// ThermalAwareScheduler places each job, among the workers
// GetPossibleWorkers reports as staying under their throttling
// threshold, on the one with the lowest predicted latency; the
// predicted temperatures of safe workers are not compared with each
// other. If none is safe, it falls back to the minimum-latency worker among
// those currently throttled, accepting the thermal risk rather than
// starving the job entirely.
type ThermalAwareScheduler struct {
	Reader cost.TemperatureReader
}

func NewThermalAwareScheduler(reader cost.TemperatureReader) *ThermalAwareScheduler {
	return &ThermalAwareScheduler{Reader: reader}
}

func (s *ThermalAwareScheduler) ID() int                     { return IDThermalAware }
func (s *ThermalAwareScheduler) NeedProfile() bool           { return true }
func (s *ThermalAwareScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *ThermalAwareScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *ThermalAwareScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	for _, j := range ctx.LocalQueue {
		cands := candidatesFor(ctx, j)
		safeWorkers := ctx.Models.GetPossibleWorkers(cost.Observation{ModelID: j.ModelID}, s.Reader)
		safe := make(map[int]bool, len(safeWorkers))
		for _, id := range safeWorkers {
			safe[id] = true
		}

		var chosenW, fallbackW WorkerView
		var chosenSG, fallbackSG *catalog.Subgraph
		chosenLatency := time.Duration(-1)
		fallbackLatency := time.Duration(-1)

		for _, sg := range cands {
			w, ok := ctx.worker(sg.Key.WorkerID)
			if !ok || w.Type != DeviceQueue {
				continue
			}
			predicted := ctx.Models.GetPredictedLatency(w.ID, j.ModelID, j.InputBytes, j.OutputBytes)
			if safe[w.ID] {
				if chosenLatency == -1 || predicted < chosenLatency {
					chosenLatency = predicted
					chosenW, chosenSG = w, sg
				}
			} else if fallbackLatency == -1 || predicted < fallbackLatency {
				fallbackLatency = predicted
				fallbackW, fallbackSG = w, sg
			}
		}

		if chosenSG != nil {
			finishOrViolate(ctx, &act, chosenW, j, chosenSG, chosenLatency)
		} else if fallbackSG != nil {
			finishOrViolate(ctx, &act, fallbackW, j, fallbackSG, fallbackLatency)
		} else {
			act.Yielded = append(act.Yielded, j)
		}
	}
	return act
}

// --- Offloading (id 8) ---------------------------------------------------

// OffloadingScheduler routes every job to the configured cloud worker.
type OffloadingScheduler struct {
	CloudWorkerID int
}

func NewOffloadingScheduler(cloudWorkerID int) *OffloadingScheduler {
	return &OffloadingScheduler{CloudWorkerID: cloudWorkerID}
}

func (s *OffloadingScheduler) ID() int                     { return IDOffloading }
func (s *OffloadingScheduler) NeedProfile() bool           { return false }
func (s *OffloadingScheduler) NeedFallbackSubgraphs() bool { return false }
func (s *OffloadingScheduler) WorkerType() WorkerType      { return GlobalQueue }

func (s *OffloadingScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	w, ok := ctx.worker(s.CloudWorkerID)
	if !ok {
		act.Yielded = append(act.Yielded, ctx.LocalQueue...)
		return act
	}
	for _, j := range ctx.LocalQueue {
		sg := candidateOn(ctx, j, s.CloudWorkerID)
		if sg == nil {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		predicted := ctx.Models.GetPredictedLatency(s.CloudWorkerID, j.ModelID, j.InputBytes, j.OutputBytes)
		finishOrViolate(ctx, &act, w, j, sg, predicted)
	}
	return act
}

// --- RandomAssign (id 9) --------------------------------------------------

// RandomAssignScheduler picks uniformly among currently idle workers
// that have a valid subgraph for the job.
type RandomAssignScheduler struct {
	rng *rand.Rand
}

func NewRandomAssignScheduler(seed int64) *RandomAssignScheduler {
	return &RandomAssignScheduler{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomAssignScheduler) ID() int                     { return IDRandomAssign }
func (s *RandomAssignScheduler) NeedProfile() bool           { return false }
func (s *RandomAssignScheduler) NeedFallbackSubgraphs() bool { return true }
func (s *RandomAssignScheduler) WorkerType() WorkerType      { return DeviceQueue }

func (s *RandomAssignScheduler) Schedule(ctx *Context) Action {
	act := newAction()
	for _, j := range ctx.LocalQueue {
		cands := candidatesFor(ctx, j)
		var options []*catalog.Subgraph
		for _, sg := range cands {
			if w, ok := ctx.worker(sg.Key.WorkerID); ok && w.Type == DeviceQueue && w.Idle {
				options = append(options, sg)
			}
		}
		if len(options) == 0 {
			act.Yielded = append(act.Yielded, j)
			continue
		}
		sg := options[s.rng.Intn(len(options))]
		w, _ := ctx.worker(sg.Key.WorkerID)
		predicted := ctx.Models.GetPredictedLatency(w.ID, j.ModelID, j.InputBytes, j.OutputBytes)
		finishOrViolate(ctx, &act, w, j, sg, predicted)
	}
	return act
}
