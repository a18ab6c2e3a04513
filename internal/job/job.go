// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package job defines the Job and SubgraphKey value types that flow
// between the planner and its workers.
package job

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal (or in-flight) state of a Job.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusSuccess            Status = "success"
	StatusSLOViolation       Status = "slo_violation"
	StatusInputCopyFailure   Status = "input_copy_failure"
	StatusOutputCopyFailure  Status = "output_copy_failure"
	StatusInvokeFailure      Status = "invoke_failure"
)

// NoSLO is the sentinel slo_us value meaning "no deadline".
const NoSLO = 0

// NoHandle is the sentinel tensor-handle value meaning "compute only,
// nothing to copy".
const NoHandle = -1

// NoSubgraph is the sentinel subgraph_idx before a job has been
// scheduled.
const NoSubgraph = -1

// Job is an inference request, or a continuation thereof spawned by a
// worker when a model's execution is split across a fallback chain of
// subgraphs.
type Job struct {
	JobID     int64
	RequestID uuid.UUID
	ModelID   int

	SLOMicros int64

	EnqueueTime time.Time
	InvokeTime  time.Time
	EndTime     time.Time

	Status Status

	SubgraphIdx int
	WorkerID    int

	ExpectedLatency  time.Duration
	ProfiledLatency  time.Duration

	// ComputationTime, InputBytes, and OutputBytes are stamped by the
	// Invoker that ran this job (ring-derived for a local worker, wire
	// sizes for internal/cloud.Invoker) and fed into cost.Observation
	// once the job completes.
	ComputationTime time.Duration
	InputBytes      int64
	OutputBytes     int64

	InputHandle  int64
	OutputHandle int64

	ResolvedTensors         map[int]struct{}
	PreviousSubgraphIndices []int
	FollowingJobs           []*Job
}

// NewJob returns a Job ready for enqueueing, with sentinel fields set.
func NewJob(requestID uuid.UUID, modelID int, sloMicros int64) *Job {
	return &Job{
		RequestID:    requestID,
		ModelID:      modelID,
		SLOMicros:    sloMicros,
		Status:       StatusQueued,
		SubgraphIdx:  NoSubgraph,
		WorkerID:     -1,
		InputHandle:  NoHandle,
		OutputHandle: NoHandle,
	}
}

// HasSLO reports whether the job carries a deadline.
func (j *Job) HasSLO() bool {
	return j.SLOMicros != NoSLO
}

// Deadline returns the wall-clock deadline implied by SLOMicros,
// relative to EnqueueTime. Only meaningful when HasSLO is true.
func (j *Job) Deadline() time.Time {
	return j.EnqueueTime.Add(time.Duration(j.SLOMicros) * time.Microsecond)
}

// IsTerminal reports whether Status is anything other than queued.
func (j *Job) IsTerminal() bool {
	return j.Status != StatusQueued
}

// SubgraphKey identifies one candidate (model_id, worker_id, op-range)
// execution unit. Two keys are equal iff all four fields are equal;
// ordering is lexicographic over (ModelID, WorkerID, InputOps, OutputOps).
type SubgraphKey struct {
	ModelID   int
	WorkerID  int
	InputOps  []int
	OutputOps []int
}

// NewSubgraphKey builds a key, sorting and copying the op sets so
// callers can safely reuse their slices.
func NewSubgraphKey(modelID, workerID int, inputOps, outputOps []int) SubgraphKey {
	return SubgraphKey{
		ModelID:   modelID,
		WorkerID:  workerID,
		InputOps:  sortedCopy(inputOps),
		OutputOps: sortedCopy(outputOps),
	}
}

func sortedCopy(ops []int) []int {
	out := make([]int, len(ops))
	copy(out, ops)
	sort.Ints(out)
	return out
}

// GetInputOpsString renders the sorted input op set as a comma-joined
// string; this is the only externally exposed representation.
func (k SubgraphKey) GetInputOpsString() string {
	return joinInts(k.InputOps)
}

// GetOutputOpsString renders the sorted output op set as a comma-joined
// string.
func (k SubgraphKey) GetOutputOpsString() string {
	return joinInts(k.OutputOps)
}

func joinInts(ops []int) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = strconv.Itoa(op)
	}
	return strings.Join(parts, ",")
}

// Equal reports whether k and other name the same subgraph.
func (k SubgraphKey) Equal(other SubgraphKey) bool {
	return k.Compare(other) == 0
}

// Compare returns -1, 0, or 1 following the lexicographic tuple order
// (ModelID, WorkerID, InputOps, OutputOps).
func (k SubgraphKey) Compare(other SubgraphKey) int {
	if k.ModelID != other.ModelID {
		return cmpInt(k.ModelID, other.ModelID)
	}
	if k.WorkerID != other.WorkerID {
		return cmpInt(k.WorkerID, other.WorkerID)
	}
	if c := cmpIntSlice(k.InputOps, other.InputOps); c != 0 {
		return c
	}
	return cmpIntSlice(k.OutputOps, other.OutputOps)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpIntSlice(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := cmpInt(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

// String implements fmt.Stringer for debugging/logging.
func (k SubgraphKey) String() string {
	return fmt.Sprintf("model=%d worker=%d in=[%s] out=[%s]",
		k.ModelID, k.WorkerID, k.GetInputOpsString(), k.GetOutputOpsString())
}

// FinishedRecord is one slot of the planner's finished-job ring buffer.
type FinishedRecord struct {
	JobID int64
	Job   Job
	Valid bool
}

// FinishedRing is a fixed-size ring buffer of FinishedRecord, indexed
// by job_id mod N, per spec.md §3's "finished-records ring buffer of
// size N (~1000)".
type FinishedRing struct {
	slots []FinishedRecord
}

// NewFinishedRing allocates a ring of the given size.
func NewFinishedRing(size int) *FinishedRing {
	return &FinishedRing{slots: make([]FinishedRecord, size)}
}

// Put records j as the terminal state for its JobID.
func (r *FinishedRing) Put(j Job) {
	idx := int(j.JobID) % len(r.slots)
	r.slots[idx] = FinishedRecord{JobID: j.JobID, Job: j, Valid: true}
}

// Get returns the stored terminal Job for id, or (Job{}, false) if
// that slot doesn't currently hold id (either never completed, or
// overwritten by a later job_id sharing the same slot).
func (r *FinishedRing) Get(id int64) (Job, bool) {
	idx := int(id) % len(r.slots)
	rec := r.slots[idx]
	if !rec.Valid || rec.JobID != id {
		return Job{}, false
	}
	return rec.Job, true
}
