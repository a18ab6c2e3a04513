// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
)

// allOpsSupported is an Investigator that reports no unsupported ops
// for any worker, so RegisterModel produces exactly one full-model
// subgraph per worker.
type allOpsSupported struct{}

func (allOpsSupported) UnsupportedOps(workerID int, spec catalog.ModelSpec) []int { return nil }

func newTestCatalog(t *testing.T, workers []int) (*catalog.Catalog, int) {
	t.Helper()
	cat := catalog.New(allOpsSupported{}, workers, 0)
	modelID, err := cat.RegisterModel(catalog.ModelSpec{NumOps: 4}, catalog.ModelConfig{})
	require.NoError(t, err)
	return cat, modelID
}

func newJob(modelID int) *job.Job {
	return job.NewJob(uuid.New(), modelID, job.NoSLO)
}

func TestFixedDeviceScheduler_RoutesToConfiguredWorker(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0, 1})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(1, cost.KindLocal, nil)

	j := newJob(modelID)
	j.JobID = 1

	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers:    []WorkerView{{ID: 1, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
		ModelDeviceMap: map[int]int{modelID: 1},
	}

	act := NewFixedDeviceScheduler().Schedule(ctx)
	require.Len(t, act.Dispatch[1], 1)
	assert.Empty(t, act.Violated)
	assert.Empty(t, act.Yielded)
}

func TestFixedDeviceScheduler_YieldsWithoutTarget(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers:    []WorkerView{{ID: 0, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewFixedDeviceScheduler().Schedule(ctx)
	assert.Empty(t, act.Dispatch)
	assert.Len(t, act.Yielded, 1)
}

func TestSLOViolation_MarkedImmediately(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)

	j := job.NewJob(uuid.New(), modelID, 1) // 1 microsecond SLO: impossible
	j.EnqueueTime = time.Now().Add(-time.Hour)

	ctx := &Context{
		Now:            time.Now(),
		LocalQueue:     []*job.Job{j},
		Workers:        []WorkerView{{ID: 0, Type: DeviceQueue, Idle: true}},
		Catalog:        cat,
		Models:         models,
		ModelDeviceMap: map[int]int{modelID: 0},
	}

	act := NewFixedDeviceScheduler().Schedule(ctx)
	require.Len(t, act.Violated, 1)
	assert.Equal(t, job.StatusSLOViolation, act.Violated[0].Status)
}

func TestRoundRobinScheduler_OnePerIdleWorker(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0, 1})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)
	models.RegisterWorker(1, cost.KindLocal, nil)

	jobs := []*job.Job{newJob(modelID), newJob(modelID), newJob(modelID)}
	for i, j := range jobs {
		j.JobID = int64(i)
	}

	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: jobs,
		Workers: []WorkerView{
			{ID: 0, Type: DeviceQueue, Idle: true},
			{ID: 1, Type: DeviceQueue, Idle: true},
		},
		Catalog: cat,
		Models:  models,
	}

	act := NewRoundRobinScheduler().Schedule(ctx)
	dispatched := len(act.Dispatch[0]) + len(act.Dispatch[1])
	assert.Equal(t, 2, dispatched)
	assert.Len(t, act.Yielded, 1)
}

func TestShortestExpectedLatencyScheduler_PicksFasterWorker(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0, 1})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)
	models.RegisterWorker(1, cost.KindLocal, nil)
	models.Update(0, cost.Observation{ModelID: modelID, Latency: 50 * time.Millisecond}, nil)
	models.Update(1, cost.Observation{ModelID: modelID, Latency: 5 * time.Millisecond}, nil)

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers: []WorkerView{
			{ID: 0, Type: DeviceQueue, Idle: true},
			{ID: 1, Type: DeviceQueue, Idle: true},
		},
		Catalog: cat,
		Models:  models,
	}

	act := NewShortestExpectedLatencyScheduler().Schedule(ctx)
	require.Len(t, act.Dispatch[1], 1)
	assert.Empty(t, act.Dispatch[0])
}

// stubReader is a cost.TemperatureReader stub letting tests force a
// worker either definitely safe (threshold well above current reading)
// or definitely throttled (threshold already exceeded).
type stubReader struct {
	thresholds map[int]int64
}

func (s stubReader) GetAllTemperature() []int64 { return nil }

func (s stubReader) GetThrottlingThreshold(workerID int) int64 {
	if t, ok := s.thresholds[workerID]; ok {
		return t
	}
	return -1
}

func TestThermalAwareScheduler_PrefersSafeWorkerOverThrottled(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0, 1})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, []string{"big"})
	models.RegisterWorker(1, cost.KindLocal, []string{"big"})

	// worker 0 is already at its threshold (unsafe); worker 1 has no
	// known threshold (-1), so GetPossibleWorkers always treats it as safe.
	reader := stubReader{thresholds: map[int]int64{0: 50000, 1: -1}}

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers: []WorkerView{
			{ID: 0, Type: DeviceQueue, Idle: true},
			{ID: 1, Type: DeviceQueue, Idle: true},
		},
		Catalog: cat,
		Models:  models,
	}

	act := NewThermalAwareScheduler(reader).Schedule(ctx)
	require.Len(t, act.Dispatch[1], 1, "the worker GetPossibleWorkers reports safe must win over the throttled one")
	assert.Empty(t, act.Dispatch[0])
}

func TestThermalAwareScheduler_FallsBackToThrottledWorkerWhenNoneSafe(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, []string{"big"})

	reader := stubReader{thresholds: map[int]int64{0: 50000}}

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers:    []WorkerView{{ID: 0, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewThermalAwareScheduler(reader).Schedule(ctx)
	require.Len(t, act.Dispatch[0], 1, "with no safe worker available the job still gets placed, accepting the risk")
}

func TestHEFTReservedScheduler_AccumulatesBacklogAcrossJobsInBatch(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)
	models.Update(0, cost.Observation{ModelID: modelID, Latency: 100 * time.Millisecond}, nil)

	now := time.Now()
	first := newJob(modelID)
	first.JobID = 0
	first.EnqueueTime = now

	// 150ms deadline: finishes fine against a bare 100ms predicted
	// latency, but not once the first job's 100ms reservation is added
	// on top - the reservation accumulated by the scheduler is what
	// pushes this job over, not its own predicted latency.
	second := job.NewJob(uuid.New(), modelID, int64(150*time.Millisecond/time.Microsecond))
	second.JobID = 1
	second.EnqueueTime = now

	ctx := &Context{
		Now:        now,
		LocalQueue: []*job.Job{first, second},
		Workers:    []WorkerView{{ID: 0, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewHEFTReservedScheduler().Schedule(ctx)
	require.Len(t, act.Dispatch[0], 1)
	assert.Equal(t, first.JobID, act.Dispatch[0][0].Job.JobID)
	require.Len(t, act.Violated, 1)
	assert.Equal(t, second.JobID, act.Violated[0].JobID)
	assert.Equal(t, job.StatusSLOViolation, act.Violated[0].Status)
}

func TestLeastSlackFirstScheduler_PlacesTighterDeadlineFirst(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)
	models.Update(0, cost.Observation{ModelID: modelID, Latency: 10 * time.Millisecond}, nil)

	now := time.Now()
	tight := job.NewJob(uuid.New(), modelID, int64(20*time.Millisecond/time.Microsecond))
	tight.JobID = 1
	tight.EnqueueTime = now
	loose := job.NewJob(uuid.New(), modelID, int64(time.Hour/time.Microsecond))
	loose.JobID = 2
	loose.EnqueueTime = now

	ctx := &Context{
		Now:        now,
		LocalQueue: []*job.Job{loose, tight},
		Workers:    []WorkerView{{ID: 0, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewLeastSlackFirstScheduler().Schedule(ctx)
	require.Len(t, act.Dispatch[0], 2)
	assert.Equal(t, tight.JobID, act.Dispatch[0][0].Job.JobID, "the tighter-deadline job must be placed first")
}

func TestOffloadingScheduler_RoutesEveryJobToCloudWorker(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{5})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(5, cost.KindCloud, nil)

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers:    []WorkerView{{ID: 5, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewOffloadingScheduler(5).Schedule(ctx)
	require.Len(t, act.Dispatch[5], 1)
}

func TestOffloadingScheduler_YieldsAllWhenCloudWorkerMissing(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers:    []WorkerView{{ID: 0, Type: DeviceQueue, Idle: true}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewOffloadingScheduler(99).Schedule(ctx)
	assert.Empty(t, act.Dispatch)
	assert.Len(t, act.Yielded, 1)
}

func TestRandomAssignScheduler_OnlyPicksAmongIdleWorkersWithCandidates(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0, 1})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)
	models.RegisterWorker(1, cost.KindLocal, nil)

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers: []WorkerView{
			{ID: 0, Type: DeviceQueue, Idle: false},
			{ID: 1, Type: DeviceQueue, Idle: true},
		},
		Catalog: cat,
		Models:  models,
	}

	act := NewRandomAssignScheduler(42).Schedule(ctx)
	require.Len(t, act.Dispatch[1], 1, "worker 0 is busy, so the only idle candidate is worker 1")
	assert.Empty(t, act.Dispatch[0])
}

func TestRandomAssignScheduler_YieldsWhenNoIdleWorkerHasACandidate(t *testing.T) {
	cat, modelID := newTestCatalog(t, []int{0})
	models := cost.NewModelManager(0.3)
	models.RegisterWorker(0, cost.KindLocal, nil)

	j := newJob(modelID)
	ctx := &Context{
		Now:        time.Now(),
		LocalQueue: []*job.Job{j},
		Workers:    []WorkerView{{ID: 0, Type: DeviceQueue, Idle: false}},
		Catalog:    cat,
		Models:     models,
	}

	act := NewRandomAssignScheduler(1).Schedule(ctx)
	assert.Empty(t, act.Dispatch)
	assert.Len(t, act.Yielded, 1)
}

func TestByID_UnknownIDErrors(t *testing.T) {
	_, err := ByID(999, 0, nil, 1)
	assert.Error(t, err)
}

func TestByID_KnownIDs(t *testing.T) {
	for _, id := range []int{
		IDFixedDevice, IDRoundRobin, IDShortestExpectedLatency, IDFixedDeviceGlobalQueue,
		IDHEFT, IDHEFTReserved, IDLeastSlackFirst, IDThermalAware, IDOffloading, IDRandomAssign,
	} {
		s, err := ByID(id, 0, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID())
	}
}
