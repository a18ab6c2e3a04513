// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package analytics turns the planner's finished-job feed into
// scheduler/worker efficiency reports: SLO hit rate, throughput, idle
// ratio, and thermal headroom. It is read-only — nothing here feeds
// back into scheduling.
package analytics

import (
	"time"

	"github.com/edgerun/plannerd/internal/job"
)

// Sample is one finished job's contribution to a Collector's rolling
// window.
type Sample struct {
	Timestamp time.Time
	WorkerID  int
	ModelID   int
	Status    job.Status
	Latency   time.Duration
}

// SLOMet reports whether s represents a job that met its deadline.
func (s Sample) SLOMet() bool {
	return s.Status == job.StatusSuccess
}

// WorkerStat summarizes one worker's recent activity within a
// Report's window.
type WorkerStat struct {
	WorkerID        int
	Completed       int64
	SLOViolations   int64
	SLOHitRate      float64
	ThroughputQPS   float64
	IdleRatio       float64
	Temperature     int64
	ThrottleTemp    int64
	ThermalHeadroom int64
	Score           float64
}

// Report is a point-in-time efficiency snapshot across every tracked
// worker.
type Report struct {
	GeneratedAt          time.Time
	Window               time.Duration
	Workers              []WorkerStat
	OverallSLOHitRate    float64
	OverallThroughputQPS float64
	OverallScore         float64
}
