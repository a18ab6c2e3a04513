// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch turns the planner's finished-job ring into a
// subscribable event feed. Unlike the poller this package grew from,
// there is nothing to poll: the planner already publishes a
// FinishedEvent the moment a job reaches a terminal state
// (internal/planner's Subscribe), so JobWatcher only has to adapt that
// feed into a filtered, typed channel for pkg/streaming's transports.
package watch

import (
	"context"
	"time"

	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/planner"
)

// DefaultBufferSize is the default event channel buffer.
const DefaultBufferSize = 100

// finishedSource is the slice of *planner.Planner a JobWatcher depends
// on; satisfied by *planner.Planner.
type finishedSource interface {
	Subscribe(buffer int) (<-chan planner.FinishedEvent, func())
}

// JobEvent is one terminal job delivered to a watcher.
type JobEvent struct {
	Type      string     `json:"type"` // "job_succeeded" or "job_failed"
	JobID     int64      `json:"job_id"`
	ModelID   int        `json:"model_id"`
	WorkerID  int        `json:"worker_id"`
	Status    job.Status `json:"status"`
	EventTime time.Time  `json:"event_time"`
	Job       job.Job    `json:"job"`
	Error     error      `json:"error,omitempty"`
}

// WatchOptions filters the job feed.
type WatchOptions struct {
	// ModelIDs, if non-empty, restricts events to the listed models.
	ModelIDs []int
	// ExcludeSuccess drops job_succeeded events, keeping only failures.
	ExcludeSuccess bool
}

func (o *WatchOptions) wantsModel(modelID int) bool {
	if o == nil || len(o.ModelIDs) == 0 {
		return true
	}
	for _, id := range o.ModelIDs {
		if id == modelID {
			return true
		}
	}
	return false
}

func (o *WatchOptions) excludeSuccess() bool {
	return o != nil && o.ExcludeSuccess
}

// JobWatcher adapts a planner's finished-job pub-sub feed into a
// filtered JobEvent channel.
type JobWatcher struct {
	source     finishedSource
	bufferSize int
}

// NewJobWatcher wraps pl. pl is typed as finishedSource rather than
// *planner.Planner so tests can supply a fake publisher.
func NewJobWatcher(pl finishedSource) *JobWatcher {
	return &JobWatcher{source: pl, bufferSize: DefaultBufferSize}
}

// WithBufferSize sets a custom buffer size for the event channel.
func (w *JobWatcher) WithBufferSize(size int) *JobWatcher {
	w.bufferSize = size
	return w
}

// Watch subscribes to the planner's finished-job feed and returns a
// channel of filtered JobEvents. The channel closes, and the
// underlying subscription is cancelled, when ctx is done.
func (w *JobWatcher) Watch(ctx context.Context, opts *WatchOptions) (<-chan JobEvent, error) {
	finished, cancel := w.source.Subscribe(w.bufferSize)
	out := make(chan JobEvent, w.bufferSize)

	go w.forward(ctx, finished, cancel, opts, out)
	return out, nil
}

func (w *JobWatcher) forward(ctx context.Context, finished <-chan planner.FinishedEvent, cancel func(), opts *WatchOptions, out chan<- JobEvent) {
	defer close(out)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-finished:
			if !ok {
				return
			}
			if !opts.wantsModel(ev.Job.ModelID) {
				continue
			}
			je := toJobEvent(ev)
			if je.Type == eventSucceeded && opts.excludeSuccess() {
				continue
			}
			select {
			case out <- je:
			case <-ctx.Done():
				return
			}
		}
	}
}

const (
	eventSucceeded = "job_succeeded"
	eventFailed    = "job_failed"
)

// toJobEvent classifies a planner.FinishedEvent by its terminal Status.
func toJobEvent(ev planner.FinishedEvent) JobEvent {
	eventType := eventFailed
	if ev.Job.Status == job.StatusSuccess {
		eventType = eventSucceeded
	}
	return JobEvent{
		Type:      eventType,
		JobID:     ev.Job.JobID,
		ModelID:   ev.Job.ModelID,
		WorkerID:  ev.Job.WorkerID,
		Status:    ev.Job.Status,
		EventTime: ev.Job.EndTime,
		Job:       ev.Job,
	}
}
