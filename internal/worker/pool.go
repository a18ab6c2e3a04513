// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/job"
)

// stealable is the subset of DeviceQueueWorker a Pool needs to run
// work stealing across siblings: a queue deep enough to offer a tail
// job, and the means to remove and re-home it.
type stealable interface {
	ID() int
	GetWaitingTime() time.Duration
	PeekTail() (*job.Job, bool)
	StealTail() *job.Job
	GiveJob(j *job.Job) bool
}

// Pool coordinates work stealing across every device-queue worker it
// is told about. It is deliberately narrow: it has no opinion on
// scheduling policy, only on rebalancing an idle device's queue once
// the scheduler has already placed work (spec.md §4.E's "work
// stealing" note).
type Pool struct {
	planner Planner

	mu      sync.RWMutex
	workers map[int]stealable
}

// NewPool creates an empty work-stealing coordinator.
func NewPool(planner Planner) *Pool {
	return &Pool{planner: planner, workers: make(map[int]stealable)}
}

// Register makes w a participant in work stealing, both as a source
// (its tail jobs may be taken) and a destination (it may receive a
// stolen job when idle).
func (p *Pool) Register(w stealable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[w.ID()] = w
}

// TryWorkSteal is called by an idle worker once its own queue has
// drained. It finds the sibling whose tail-job re-keyed onto idleID
// yields the largest positive (victim_waiting_time - alt_latency),
// and if one exists, reassigns that job: pops it from the victim's
// tail and hands it to idleID via GiveJob. A job already mid-invoke
// (invoke_time > 0) is never a candidate — PeekTail/StealTail already
// enforce that at the victim.
func (p *Pool) TryWorkSteal(idleID int) bool {
	p.mu.RLock()
	idle, ok := p.workers[idleID]
	if !ok {
		p.mu.RUnlock()
		return false
	}
	candidates := make([]stealable, 0, len(p.workers))
	for id, w := range p.workers {
		if id == idleID {
			continue
		}
		candidates = append(candidates, w)
	}
	p.mu.RUnlock()

	var bestVictim stealable
	var bestGain time.Duration
	var bestJob *job.Job

	for _, victim := range candidates {
		tail, ok := victim.PeekTail()
		if !ok {
			continue
		}
		altLatency, ok := p.planner.RekeyLatency(tail, idleID)
		if !ok {
			continue
		}
		gain := victim.GetWaitingTime() - altLatency
		if gain > bestGain {
			bestGain = gain
			bestVictim = victim
			bestJob = tail
		}
	}

	if bestVictim == nil {
		return false
	}

	stolen := bestVictim.StealTail()
	if stolen == nil || stolen.JobID != bestJob.JobID {
		return false
	}
	return idle.GiveJob(stolen)
}
