// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/plannerd/pkg/logging"
)

func writeSysfsFile(t *testing.T, value string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reading")
	require.NoError(t, os.WriteFile(path, []byte(value), 0o644))
	return path
}

func TestReadSysfsInt(t *testing.T) {
	good := writeSysfsFile(t, "45000\n")
	assert.Equal(t, int64(45000), readSysfsInt(good))

	bad := writeSysfsFile(t, "not-a-number")
	assert.Equal(t, int64(Unknown), readSysfsInt(bad))

	assert.Equal(t, int64(Unknown), readSysfsInt(""))
	assert.Equal(t, int64(Unknown), readSysfsInt(filepath.Join(t.TempDir(), "missing")))
}

func TestMonitor_PollOnceRecordsSamples(t *testing.T) {
	tz := writeSysfsFile(t, "50000")
	freq := writeSysfsFile(t, "1200000")

	m := NewMonitor([]Source{{WorkerID: 0, TZPath: tz, FreqPath: freq, ThrottleTemp: 80000}}, 4, logging.NoOpLogger{})
	m.pollOnce()

	assert.Equal(t, int64(50000), m.GetTemperature(0))
	assert.Equal(t, int64(1200000), m.GetFrequency(0))
	assert.Equal(t, int64(80000), m.GetThrottlingThreshold(0))
}

func TestMonitor_UnreadablePathDegradesToUnknown(t *testing.T) {
	m := NewMonitor([]Source{{WorkerID: 0, TZPath: "", FreqPath: ""}}, 4, logging.NoOpLogger{})
	m.pollOnce()

	assert.Equal(t, int64(Unknown), m.GetTemperature(0))
	assert.Equal(t, int64(Unknown), m.GetFrequency(0))
}

func TestMonitor_GetTemperatureUnknownBeforeAnyPoll(t *testing.T) {
	m := NewMonitor(nil, 4, logging.NoOpLogger{})
	assert.Equal(t, int64(Unknown), m.GetTemperature(0))
	assert.Equal(t, int64(Unknown), m.GetFrequency(0))
}

func TestMonitor_HistoryIsBounded(t *testing.T) {
	tz := writeSysfsFile(t, "1")
	m := NewMonitor([]Source{{WorkerID: 0, TZPath: tz}}, 2, logging.NoOpLogger{})
	m.pollOnce()
	m.pollOnce()
	m.pollOnce()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.temps[0], 2)
}

func TestMonitor_GetAllTemperatureOrdersBySourceDeclaration(t *testing.T) {
	tzA := writeSysfsFile(t, "40000")
	tzB := writeSysfsFile(t, "60000")
	m := NewMonitor([]Source{
		{WorkerID: 1, TZPath: tzB},
		{WorkerID: 0, TZPath: tzA},
	}, 4, logging.NoOpLogger{})
	m.pollOnce()

	assert.Equal(t, []int64{60000, 40000}, m.GetAllTemperature())
}

func TestMonitor_GetThrottlingThresholdUnknownForUnconfiguredWorker(t *testing.T) {
	m := NewMonitor([]Source{{WorkerID: 0, ThrottleTemp: 75000}}, 4, logging.NoOpLogger{})
	assert.Equal(t, int64(Unknown), m.GetThrottlingThreshold(99))
}

func TestMonitor_FillJobInfoStampsCurrentReadings(t *testing.T) {
	tz := writeSysfsFile(t, "55000")
	freq := writeSysfsFile(t, "900000")
	m := NewMonitor([]Source{{WorkerID: 0, TZPath: tz, FreqPath: freq}}, 4, logging.NoOpLogger{})
	m.pollOnce()

	before := m.FillJobInfoBefore(0)
	assert.Equal(t, int64(55000), before.Temperature)
	assert.Equal(t, int64(900000), before.Frequency)
	assert.WithinDuration(t, time.Now(), before.Timestamp, time.Second)

	after := m.FillJobInfoAfter(0)
	assert.Equal(t, before.Temperature, after.Temperature)
}

func TestMonitor_StartStop(t *testing.T) {
	tz := writeSysfsFile(t, "30000")
	m := NewMonitor([]Source{{WorkerID: 0, TZPath: tz}}, 4, logging.NoOpLogger{})
	m.Start()
	require.Eventually(t, func() bool {
		return m.GetTemperature(0) != Unknown
	}, 2*time.Second, 5*time.Millisecond)
	m.Stop()
}
