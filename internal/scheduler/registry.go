// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"github.com/edgerun/plannerd/internal/cost"
	rterrors "github.com/edgerun/plannerd/pkg/errors"
)

// ByID instantiates the scheduler named by id (spec.md §6's dense
// scheduler-id enumeration), replacing the original's deep class
// hierarchy with one id -> factory switch per REDESIGN FLAGS.
func ByID(id int, cloudWorkerID int, thermalReader cost.TemperatureReader, randSeed int64) (Scheduler, error) {
	switch id {
	case IDFixedDevice:
		return NewFixedDeviceScheduler(), nil
	case IDRoundRobin:
		return NewRoundRobinScheduler(), nil
	case IDShortestExpectedLatency:
		return NewShortestExpectedLatencyScheduler(), nil
	case IDFixedDeviceGlobalQueue:
		return NewFixedDeviceGlobalQueueScheduler(), nil
	case IDHEFT:
		return NewHEFTScheduler(), nil
	case IDHEFTReserved:
		return NewHEFTReservedScheduler(), nil
	case IDLeastSlackFirst:
		return NewLeastSlackFirstScheduler(), nil
	case IDThermalAware:
		return NewThermalAwareScheduler(thermalReader), nil
	case IDOffloading:
		return NewOffloadingScheduler(cloudWorkerID), nil
	case IDRandomAssign:
		return NewRandomAssignScheduler(randSeed), nil
	default:
		return nil, rterrors.New(rterrors.KindConfigParse, "unknown scheduler id")
	}
}
