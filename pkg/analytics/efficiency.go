// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"math"
	"time"
)

// ReportWeights controls how a worker's SLOHitRate, thermal headroom,
// and idle ratio blend into its Score (0-1, higher is better).
type ReportWeights struct {
	SLO     float64
	Thermal float64
	Idle    float64
}

// DefaultReportWeights weighs SLO adherence highest, since it's the
// thing the scheduler is ultimately judged on.
func DefaultReportWeights() ReportWeights {
	return ReportWeights{SLO: 0.5, Thermal: 0.3, Idle: 0.2}
}

func sloHitRate(completed, violations int64) float64 {
	if completed == 0 {
		return 1.0
	}
	hits := completed - violations
	if hits < 0 {
		hits = 0
	}
	return float64(hits) / float64(completed)
}

func throughputQPS(completed int64, window time.Duration) float64 {
	seconds := window.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(completed) / seconds
}

// thermalScore maps (headroom / throttleTemp) into a 0-1 score; a
// worker already at or past its throttling threshold scores 0.
func thermalScore(headroom, throttleTemp int64) float64 {
	if throttleTemp <= 0 {
		return 1.0
	}
	if headroom <= 0 {
		return 0
	}
	score := float64(headroom) / float64(throttleTemp)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// score blends the three signals per weights, clamped to [0, 1].
func score(sloHit float64, headroom, throttleTemp int64, idleRatio float64, weights ReportWeights) float64 {
	total := weights.SLO + weights.Thermal + weights.Idle
	if total == 0 {
		return 0
	}
	v := weights.SLO*sloHit + weights.Thermal*thermalScore(headroom, throttleTemp) + weights.Idle*(1-idleRatio)
	v /= total
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
