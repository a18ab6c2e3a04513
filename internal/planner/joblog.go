// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/job"
)

// JobLog appends one tab-separated row per finished job, columns per
// spec.md §6: sched_id, model_name, model_id, device_id, subgraph_idx,
// enqueue_time, invoke_time, end_time, profiled_time, expected_latency,
// slo_us, status, is_final_subgraph. There's no third-party CSV/TSV
// library anywhere in the pack that improves on stdlib encoding/csv for
// a flat tabular dump, so this stays on the standard library.
type JobLog struct {
	mu      sync.Mutex
	w       *csv.Writer
	schedID int
	modelName func(modelID int) string
}

// NewJobLog wraps w as a tab-separated job log writer. schedID
// identifies which scheduler produced the placements being logged;
// modelName resolves a model_id to its configured filename, falling
// back to the numeric id if nil.
func NewJobLog(w io.Writer, schedID int, modelName func(int) string) *JobLog {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if modelName == nil {
		modelName = func(id int) string { return strconv.Itoa(id) }
	}
	return &JobLog{w: cw, schedID: schedID, modelName: modelName}
}

// Write appends j's terminal state as one row and flushes.
func (l *JobLog) Write(j job.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()

	finalSubgraph := "0"
	if len(j.FollowingJobs) == 0 {
		finalSubgraph = "1"
	}

	row := []string{
		strconv.Itoa(l.schedID),
		l.modelName(j.ModelID),
		strconv.Itoa(j.ModelID),
		strconv.Itoa(j.WorkerID),
		strconv.Itoa(j.SubgraphIdx),
		formatTime(j.EnqueueTime),
		formatTime(j.InvokeTime),
		formatTime(j.EndTime),
		j.ProfiledLatency.String(),
		j.ExpectedLatency.String(),
		strconv.FormatInt(j.SLOMicros, 10),
		string(j.Status),
		finalSubgraph,
	}
	_ = l.w.Write(row)
	l.w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}
