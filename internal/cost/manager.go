// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"sync"
	"time"
)

// WorkerKind distinguishes the local-worker cost model variants from
// the cloud-worker variants, per spec.md §4.D.
type WorkerKind int

const (
	KindLocal WorkerKind = iota
	KindCloud
)

// TemperatureReader supplies the current readings a ThermalModel falls
// back to below minimumLogSize samples — satisfied by
// internal/resource.Monitor.
type TemperatureReader interface {
	GetAllTemperature() []int64
	GetThrottlingThreshold(workerID int) int64
}

type workerModels struct {
	kind    WorkerKind
	latency LatencyModel
	thermal ThermalModel
	zones   []string
}

// ModelManager predicts, per (worker, subgraph), the expected latency
// and post-invoke temperature, and folds completed observations back
// into the online models.
type ModelManager struct {
	mu      sync.RWMutex
	workers map[int]*workerModels
	smoothing float64
}

// NewModelManager creates an empty manager; RegisterWorker must be
// called once per worker before it can be predicted against.
func NewModelManager(smoothingFactor float64) *ModelManager {
	return &ModelManager{
		workers:   make(map[int]*workerModels),
		smoothing: smoothingFactor,
	}
}

// RegisterWorker attaches the latency/thermal model pair appropriate
// for kind to workerID, with one thermal regression per named zone.
func (mm *ModelManager) RegisterWorker(workerID int, kind WorkerKind, zones []string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	wm := &workerModels{kind: kind, zones: zones}
	switch kind {
	case KindCloud:
		wm.latency = NewCloudLatencyModel(mm.smoothing)
		wm.thermal = NewCloudThermalModel(zones)
	default:
		wm.latency = NewLocalLatencyModel(mm.smoothing)
		wm.thermal = NewLocalThermalModel(zones)
	}
	mm.workers[workerID] = wm
}

// GetPredictedLatency returns the expected latency of running a
// subgraph with the given transfer sizes on workerID.
func (mm *ModelManager) GetPredictedLatency(workerID, modelID int, inputBytes, outputBytes int64) time.Duration {
	mm.mu.RLock()
	wm, ok := mm.workers[workerID]
	mm.mu.RUnlock()
	if !ok {
		return 0
	}
	return wm.latency.Predict(modelID, inputBytes, outputBytes)
}

// GetPredictedTemperature returns the predicted post-invoke
// temperature for every zone of workerID, given obs's feature set and
// currentTemps as the pre-minimumLogSize fallback.
func (mm *ModelManager) GetPredictedTemperature(workerID int, obs Observation, currentTemps map[string]int64) map[string]int64 {
	mm.mu.RLock()
	wm, ok := mm.workers[workerID]
	mm.mu.RUnlock()
	if !ok {
		return nil
	}
	return wm.thermal.Predict(obs, currentTemps)
}

// GetPossibleWorkers returns every registered worker whose predicted
// temperature across every zone stays under that worker's throttling
// threshold, per spec.md §4.D.
func (mm *ModelManager) GetPossibleWorkers(obs Observation, reader TemperatureReader) []int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	var out []int
	for workerID, wm := range mm.workers {
		threshold := reader.GetThrottlingThreshold(workerID)
		if threshold == -1 {
			out = append(out, workerID)
			continue
		}
		current := make(map[string]int64, len(wm.zones))
		for _, z := range wm.zones {
			current[z] = threshold // no better baseline without a per-zone reader; conservative
		}
		predicted := wm.thermal.Predict(obs, current)
		safe := true
		for _, temp := range predicted {
			if temp >= threshold {
				safe = false
				break
			}
		}
		if safe {
			out = append(out, workerID)
		}
	}
	return out
}

// Update dispatches a completed job's observation to workerID's
// latency and thermal models.
func (mm *ModelManager) Update(workerID int, obs Observation, tempAfter map[string]int64) {
	mm.mu.RLock()
	wm, ok := mm.workers[workerID]
	mm.mu.RUnlock()
	if !ok {
		return
	}
	wm.latency.Update(obs)
	wm.thermal.Update(obs, tempAfter)
}
