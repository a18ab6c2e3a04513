// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeReader is a TemperatureReader stub for exercising GetPossibleWorkers
// without depending on internal/resource.Monitor.
type fakeReader struct {
	thresholds map[int]int64
}

func (f fakeReader) GetAllTemperature() []int64 { return nil }

func (f fakeReader) GetThrottlingThreshold(workerID int) int64 {
	if t, ok := f.thresholds[workerID]; ok {
		return t
	}
	return -1
}

func TestModelManager_GetPredictedLatencyUnknownWorkerIsZero(t *testing.T) {
	mm := NewModelManager(0.5)
	assert.Equal(t, time.Duration(0), mm.GetPredictedLatency(99, 1, 0, 0))
}

func TestModelManager_RegisterWorkerSelectsModelKind(t *testing.T) {
	mm := NewModelManager(0.5)
	mm.RegisterWorker(0, KindLocal, []string{"big"})
	mm.RegisterWorker(1, KindCloud, []string{"modem"})

	mm.Update(0, Observation{ModelID: 1, Latency: 10 * time.Millisecond}, nil)
	mm.Update(1, Observation{ModelID: 1, Latency: 10 * time.Millisecond, ComputationTime: 4 * time.Millisecond}, nil)

	assert.Equal(t, 10*time.Millisecond, mm.GetPredictedLatency(0, 1, 0, 0))
	// cloud worker adds computation EWMA plus the comm floor.
	assert.Equal(t, 4*time.Millisecond+commTimeFloor, mm.GetPredictedLatency(1, 1, 0, 0))
}

// TestModelManager_ThermalExclusion exercises the fix for the previously
// vacuous safety check: a worker registered with real zone names and a
// known throttling threshold is excluded by GetPossibleWorkers before its
// thermal model has enough samples to regress (the conservative baseline
// treats it as already at the threshold), whereas a worker registered
// with no zone names at all - the old structurally-unsafe configuration -
// can never be excluded no matter how hot the reader reports the device,
// because there is nothing for Predict to iterate over.
func TestModelManager_ThermalExclusion(t *testing.T) {
	mm := NewModelManager(0.5)
	mm.RegisterWorker(0, KindLocal, []string{"big"})
	mm.RegisterWorker(1, KindLocal, nil) // no zones configured
	mm.RegisterWorker(2, KindLocal, []string{"big"})

	reader := fakeReader{thresholds: map[int]int64{0: 80000, 1: 80000, 2: -1}}
	obs := Observation{TempAllBefore: []int64{90000}}

	possible := mm.GetPossibleWorkers(obs, reader)

	assert.NotContains(t, possible, 0, "worker with a real zone and known threshold must be excludable")
	assert.Contains(t, possible, 1, "a worker with no zones can never be excluded - this is the bug, reproduced for contrast")
	assert.Contains(t, possible, 2, "a worker with an unknown (-1) threshold has no sensor to throttle against and is always eligible")
}

func TestModelManager_GetPredictedTemperatureUnknownWorkerIsNil(t *testing.T) {
	mm := NewModelManager(0.5)
	assert.Nil(t, mm.GetPredictedTemperature(99, Observation{}, nil))
}

func TestModelManager_UpdateUnknownWorkerIsNoop(t *testing.T) {
	mm := NewModelManager(0.5)
	assert.NotPanics(t, func() {
		mm.Update(99, Observation{}, nil)
	})
}
