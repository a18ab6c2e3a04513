// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the per-accelerator execution contexts:
// DeviceQueue and GlobalQueue workers sharing one state-machine
// contract, CPU affinity, and work stealing.
package worker

import rterrors "github.com/edgerun/plannerd/pkg/errors"

// CpuSet is an immutable bitset of logical CPUs, derived from a named
// mask (per spec.md §3).
type CpuSet struct {
	mask uint64
}

// Named masks recognised in configuration; the actual core topology
// (which bits are "little" vs "big") is supplied by the caller since
// it is platform-specific and out of this module's scope.
const (
	MaskAll     = "all"
	MaskLittle  = "little"
	MaskBig     = "big"
	MaskPrimary = "primary"
)

// NewCpuSet builds a CpuSet directly from a bitmask.
func NewCpuSet(mask uint64) CpuSet {
	return CpuSet{mask: mask}
}

// ParseCpuSet resolves a named mask against a topology description
// (little-core bits, big-core bits, primary core index, and total
// logical CPU count for "all").
func ParseCpuSet(name string, littleMask, bigMask uint64, primaryCPU, numCPUs int) (CpuSet, error) {
	switch name {
	case MaskAll, "":
		if numCPUs <= 0 || numCPUs > 64 {
			return CpuSet{}, rterrors.New(rterrors.KindConfigParse, "invalid cpu count for 'all' mask")
		}
		return CpuSet{mask: (uint64(1) << uint(numCPUs)) - 1}, nil
	case MaskLittle:
		return CpuSet{mask: littleMask}, nil
	case MaskBig:
		return CpuSet{mask: bigMask}, nil
	case MaskPrimary:
		if primaryCPU < 0 || primaryCPU >= 64 {
			return CpuSet{}, rterrors.New(rterrors.KindConfigParse, "invalid primary cpu index")
		}
		return CpuSet{mask: uint64(1) << uint(primaryCPU)}, nil
	default:
		return CpuSet{}, rterrors.New(rterrors.KindConfigParse, "unknown cpu mask name: "+name)
	}
}

// Mask returns the raw bitmask.
func (c CpuSet) Mask() uint64 { return c.mask }

// Contains reports whether logical CPU id is a member.
func (c CpuSet) Contains(cpu int) bool {
	if cpu < 0 || cpu >= 64 {
		return false
	}
	return c.mask&(uint64(1)<<uint(cpu)) != 0
}

// Len returns the number of CPUs in the set.
func (c CpuSet) Len() int {
	n := 0
	for m := c.mask; m != 0; m &= m - 1 {
		n++
	}
	return n
}

// Equal reports whether two CpuSets name the same CPUs.
func (c CpuSet) Equal(other CpuSet) bool {
	return c.mask == other.mask
}
