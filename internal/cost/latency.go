// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cost

import "time"

// Observation is the feature/outcome row recorded for one completed
// subgraph invocation, feeding both the latency and thermal models.
type Observation struct {
	ModelID     int
	OpCount     int
	InputBytes  int64
	OutputBytes int64
	FLOPs       int64

	Latency         time.Duration
	ComputationTime time.Duration // cloud worker only: server-reported compute time
	TempAllBefore   []int64       // per-zone temperature samples at invoke time
	TempAllAfter    []int64       // per-zone temperature samples observed after invoke
	FreqAll         []int64
	RSSI            float64
	WaitingTime     time.Duration
}

// minCloudSamples is the floor below which the cloud LatencyModel
// returns a fixed 2ms comm-time estimate instead of trusting the
// regression fit.
const minCloudSamples = 30

// commTimeFloor is the floor comm-time estimate used below
// minCloudSamples observations.
const commTimeFloor = 2 * time.Millisecond

// cloudWindowSize is the sliding window width (W) for the cloud
// comm-time regression.
const cloudWindowSize = 100

// LatencyModel predicts a subgraph's expected invocation latency.
// Implementations exist for a local worker (EWMA-only) and the cloud
// worker (EWMA computation time + regressed communication time).
type LatencyModel interface {
	// Predict returns the expected latency for a subgraph of the given
	// model with the given feature set.
	Predict(modelID int, inputBytes, outputBytes int64) time.Duration
	// Update blends a completed observation into the model.
	Update(obs Observation)
}

// LocalLatencyModel implements spec.md §4.D's local-worker variant: a
// smoothed EWMA(alpha) estimate per model_id.
type LocalLatencyModel struct {
	alpha     float64
	estimates map[int]time.Duration
}

// NewLocalLatencyModel creates a model with the given smoothing factor
// (0..1).
func NewLocalLatencyModel(alpha float64) *LocalLatencyModel {
	return &LocalLatencyModel{
		alpha:     alpha,
		estimates: make(map[int]time.Duration),
	}
}

// Predict returns the current EWMA for modelID, or zero if no
// observation has been recorded yet — callers should treat zero as
// "unknown" for a brand-new model, per §4.D's "returns floor" note for
// an empty log.
func (m *LocalLatencyModel) Predict(modelID int, _, _ int64) time.Duration {
	return m.estimates[modelID]
}

// Update blends obs.Latency into the EWMA for obs.ModelID.
func (m *LocalLatencyModel) Update(obs Observation) {
	prev, ok := m.estimates[obs.ModelID]
	if !ok {
		m.estimates[obs.ModelID] = obs.Latency
		return
	}
	blended := time.Duration(m.alpha*float64(obs.Latency) + (1-m.alpha)*float64(prev))
	m.estimates[obs.ModelID] = blended
}

// CloudLatencyModel implements spec.md §4.D's cloud-worker variant:
// per-model computation-time EWMA, plus a linear regression over
// [input_bytes, output_bytes, 1] -> comm_time fitted over the last
// cloudWindowSize observations.
type CloudLatencyModel struct {
	alpha       float64
	computation map[int]time.Duration
	comm        *slidingWindow
}

// NewCloudLatencyModel creates a cloud latency model with the given
// EWMA smoothing factor for computation time.
func NewCloudLatencyModel(alpha float64) *CloudLatencyModel {
	return &CloudLatencyModel{
		alpha:       alpha,
		computation: make(map[int]time.Duration),
		comm:        newSlidingWindow(cloudWindowSize),
	}
}

// Predict returns computation_EWMA(modelID) + regressed comm_time for
// the given transfer size. Below minCloudSamples observations, comm
// time floors at commTimeFloor.
func (m *CloudLatencyModel) Predict(modelID int, inputBytes, outputBytes int64) time.Duration {
	return m.computation[modelID] + m.predictComm(inputBytes, outputBytes)
}

func (m *CloudLatencyModel) predictComm(inputBytes, outputBytes int64) time.Duration {
	if m.comm.Len() < minCloudSamples {
		return commTimeFloor
	}
	coeffs, ok := m.comm.Fit()
	if !ok {
		return commTimeFloor
	}
	row := []float64{float64(inputBytes), float64(outputBytes), 1}
	us := predict(coeffs, row)
	if us < 0 {
		us = 0
	}
	return time.Duration(us) * time.Microsecond
}

// Update blends obs.ComputationTime into the per-model EWMA and
// appends a (input_bytes, output_bytes, 1) -> comm_time row to the
// sliding regression window, where comm_time = Latency - ComputationTime.
func (m *CloudLatencyModel) Update(obs Observation) {
	prev, ok := m.computation[obs.ModelID]
	if !ok {
		m.computation[obs.ModelID] = obs.ComputationTime
	} else {
		blended := time.Duration(m.alpha*float64(obs.ComputationTime) + (1-m.alpha)*float64(prev))
		m.computation[obs.ModelID] = blended
	}

	commTime := obs.Latency - obs.ComputationTime
	row := []float64{float64(obs.InputBytes), float64(obs.OutputBytes), 1}
	m.comm.Append(row, float64(commTime.Microseconds()))
}
