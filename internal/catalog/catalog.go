// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package catalog maintains the subgraph catalog: for every registered
// model, the set of executable subgraphs per worker, including the
// fallback partitions needed when a worker can't run every op.
package catalog

import (
	"sort"
	"sync"

	rterrors "github.com/edgerun/plannerd/pkg/errors"
	"github.com/edgerun/plannerd/internal/job"
)

// ModelSpec describes a registered model's operator graph.
type ModelSpec struct {
	NumOps           int
	InputTensors     []int
	OutputTensors    []int
	NodeOutputTensors []int
	TensorTypes      map[string]struct{}
	// UnsupportedOps[workerID] lists, in ascending order, the op indices
	// that worker cannot execute.
	UnsupportedOps map[int][]int
}

// ModelConfig is the per-model configuration accompanying registration.
type ModelConfig struct {
	Filename      string
	PeriodMS      int
	PreferredWorker int
	BatchSize     int
	SLOMicros     int64
	SLOScale      float64
}

// Subgraph is a compiled execution unit over a contiguous op range.
type Subgraph struct {
	Idx      int
	Key      job.SubgraphKey
	StartOp  int
	EndOp    int // inclusive
	Next     *Subgraph // continuation subgraph, if this one is a fallback prefix
}

// OpCount returns the number of ops this subgraph covers.
func (s *Subgraph) OpCount() int {
	return s.EndOp - s.StartOp + 1
}

// Investigator runs the (temporarily applied) delegate for a worker
// over a model's op range and reports which ops it cannot execute.
// In production this wraps the hardware delegate; tests supply a fake.
type Investigator interface {
	// UnsupportedOps returns, in ascending order, the op indices in
	// [0, numOps) that workerID cannot execute for this model.
	UnsupportedOps(workerID int, spec ModelSpec) []int
}

// StaticInvestigator reports the UnsupportedOps already recorded on the
// ModelSpec itself (typically populated from a one-time offline
// profiling pass, per spec.md §4.B) instead of running a live delegate
// probe — the production path, since actually invoking a hardware
// delegate is out of scope here (spec.md §1).
type StaticInvestigator struct{}

// UnsupportedOps implements Investigator by looking up spec.UnsupportedOps.
func (StaticInvestigator) UnsupportedOps(workerID int, spec ModelSpec) []int {
	return spec.UnsupportedOps[workerID]
}

// Catalog maps SubgraphKey to subgraph index and back, across all
// registered models.
type Catalog struct {
	mu            sync.RWMutex
	investigator  Investigator
	workers       []int
	nextModelID   int
	specs         map[int]ModelSpec
	configs       map[int]ModelConfig
	subgraphs     []*Subgraph
	keyToIdx      map[job.SubgraphKey]int
	// fullModelIdx[modelID][workerID] -> subgraph idx covering the whole model, or -1
	fullModelIdx  map[int]map[int]int
	minSubgraphSize int
}

// New creates an empty catalog. workers lists every worker id the
// catalog should consider when registering a model. minSubgraphSize
// rejects fallback partitions smaller than the given op count (0
// disables the check).
func New(investigator Investigator, workers []int, minSubgraphSize int) *Catalog {
	return &Catalog{
		investigator:    investigator,
		workers:         append([]int(nil), workers...),
		specs:           make(map[int]ModelSpec),
		configs:         make(map[int]ModelConfig),
		keyToIdx:        make(map[job.SubgraphKey]int),
		fullModelIdx:    make(map[int]map[int]int),
		minSubgraphSize: minSubgraphSize,
	}
}

// RegisterModel assigns a fresh model_id, investigates the model's
// per-worker fallback partitioning, and builds the resulting
// subgraphs. Fails with KindRegisterFailure if no worker produces any
// valid subgraph.
func (c *Catalog) RegisterModel(spec ModelSpec, cfg ModelConfig) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	modelID := c.nextModelID
	c.nextModelID++

	if spec.UnsupportedOps == nil {
		spec.UnsupportedOps = make(map[int][]int)
	}

	producedAny := false
	c.fullModelIdx[modelID] = make(map[int]int)

	for _, workerID := range c.workers {
		unsupported := c.investigator.UnsupportedOps(workerID, spec)
		spec.UnsupportedOps[workerID] = unsupported

		runs := maximalSupportedRuns(spec.NumOps, unsupported)
		var prev *Subgraph
		runCount := 0
		for _, run := range runs {
			if c.minSubgraphSize > 0 && (run.end-run.start+1) < c.minSubgraphSize {
				continue
			}
			sg := c.addSubgraph(modelID, workerID, run.start, run.end)
			if prev != nil {
				prev.Next = sg
			}
			prev = sg
			runCount++
			producedAny = true
		}
		if runCount == 1 && runs[0].start == 0 && runs[0].end == spec.NumOps-1 {
			// worker supports everything: one subgraph covers the full model
			for _, sg := range c.subgraphs {
				if sg.Key.ModelID == modelID && sg.Key.WorkerID == workerID && sg.StartOp == 0 && sg.EndOp == spec.NumOps-1 {
					c.fullModelIdx[modelID][workerID] = sg.Idx
					break
				}
			}
		} else {
			c.fullModelIdx[modelID][workerID] = -1
		}
	}

	if !producedAny {
		delete(c.fullModelIdx, modelID)
		return 0, rterrors.NewRegisterFailure(modelID, "no worker produced a valid subgraph")
	}

	c.specs[modelID] = spec
	c.configs[modelID] = cfg
	return modelID, nil
}

type opRun struct{ start, end int }

// maximalSupportedRuns partitions [0, numOps) into maximal contiguous
// runs of ops NOT present in unsupported (which must be sorted
// ascending). A worker supporting nothing yields no runs; a worker
// supporting everything yields exactly one run spanning the full model.
func maximalSupportedRuns(numOps int, unsupported []int) []opRun {
	blocked := make(map[int]struct{}, len(unsupported))
	for _, op := range unsupported {
		blocked[op] = struct{}{}
	}

	var runs []opRun
	inRun := false
	start := 0
	for op := 0; op < numOps; op++ {
		_, isBlocked := blocked[op]
		if !isBlocked && !inRun {
			start = op
			inRun = true
		} else if isBlocked && inRun {
			runs = append(runs, opRun{start, op - 1})
			inRun = false
		}
	}
	if inRun {
		runs = append(runs, opRun{start, numOps - 1})
	}
	return runs
}

// addSubgraph allocates a new subgraph index for [start, end] on
// workerID and indexes it by key. Must be called with c.mu held.
func (c *Catalog) addSubgraph(modelID, workerID, start, end int) *Subgraph {
	inputOps := []int{start}
	outputOps := []int{end}
	key := job.NewSubgraphKey(modelID, workerID, inputOps, outputOps)

	idx := len(c.subgraphs)
	sg := &Subgraph{Idx: idx, Key: key, StartOp: start, EndOp: end}
	c.subgraphs = append(c.subgraphs, sg)
	c.keyToIdx[key] = idx
	return sg
}

// GetSubgraphIdx returns the full-model subgraph index for
// (modelID, workerID) if one exists, else -1.
func (c *Catalog) GetSubgraphIdx(modelID, workerID int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byWorker, ok := c.fullModelIdx[modelID]
	if !ok {
		return -1
	}
	idx, ok := byWorker[workerID]
	if !ok {
		return -1
	}
	return idx
}

// GetSubgraphCandidates returns every subgraph of modelID whose input
// op set starts at startIdx, across all workers, ordered by subgraph
// index (lowest first — the catalog's tie-break rule).
func (c *Catalog) GetSubgraphCandidates(modelID, startIdx int) []*Subgraph {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Subgraph
	for _, sg := range c.subgraphs {
		if sg.Key.ModelID == modelID && sg.StartOp == startIdx {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out
}

// Subgraph returns the subgraph with the given index, or nil.
func (c *Catalog) Subgraph(idx int) *Subgraph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.subgraphs) {
		return nil
	}
	return c.subgraphs[idx]
}

// ModelSpec returns the registered spec for modelID, if any.
func (c *Catalog) ModelSpec(modelID int) (ModelSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[modelID]
	return spec, ok
}

// ModelConfig returns the registered config for modelID, if any.
func (c *Catalog) ModelConfig(modelID int) (ModelConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[modelID]
	return cfg, ok
}
