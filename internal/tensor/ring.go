// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package tensor implements the handle-based ring buffer used to pass
// model inputs/outputs between the caller and the workers without
// copying through the planner itself.
package tensor

import (
	"sync"

	rterrors "github.com/edgerun/plannerd/pkg/errors"
)

// DefaultCapacity is the ring buffer's default slot count, per
// spec.md §3.
const DefaultCapacity = 64

// Tensor is an opaque payload; the planner core never interprets its
// contents, only copies it by value.
type Tensor struct {
	Data  []byte
	Shape []int
}

// Ring is a fixed-capacity ring buffer of Tensor slots. A handle
// returned by Alloc is valid while head-size <= handle < head.
type Ring struct {
	mu       sync.Mutex
	capacity int
	slots    [][]Tensor
	head     int64 // next handle to be allocated
}

// New creates a ring with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		slots:    make([][]Tensor, capacity),
	}
}

// Alloc reserves the next slot and returns its handle.
func (r *Ring) Alloc() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.head
	r.head++
	return h
}

// Valid reports whether handle currently names a live slot.
func (r *Ring) Valid(handle int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validLocked(handle)
}

func (r *Ring) validLocked(handle int64) bool {
	return handle >= 0 && handle >= r.head-int64(r.capacity) && handle < r.head
}

// Put copies tensors into the slot named by handle. Fails with
// KindPathInvalid if handle has aged out of the window.
func (r *Ring) Put(handle int64, tensors []Tensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.validLocked(handle) {
		return rterrors.New(rterrors.KindPathInvalid, "tensor handle out of window")
	}
	idx := int(handle % int64(r.capacity))
	cp := make([]Tensor, len(tensors))
	copy(cp, tensors)
	r.slots[idx] = cp
	return nil
}

// Get copies the tensors stored at handle into dst, failing with
// KindTensorShapeMismatch if len(dst) != the stored tensor count.
func (r *Ring) Get(handle int64, dst []Tensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.validLocked(handle) {
		return rterrors.New(rterrors.KindPathInvalid, "tensor handle out of window")
	}
	idx := int(handle % int64(r.capacity))
	stored := r.slots[idx]
	if len(stored) != len(dst) {
		return rterrors.New(rterrors.KindTensorShapeMismatch, "tensor count mismatch")
	}
	copy(dst, stored)
	return nil
}

// TotalBytes sums len(Data) across tensors, the real transfer-size
// feature internal/cost.Observation's InputBytes/OutputBytes expect.
func TotalBytes(tensors []Tensor) int64 {
	var total int64
	for _, t := range tensors {
		total += int64(len(t.Data))
	}
	return total
}

// GetAll returns a copy of every tensor stored at handle.
func (r *Ring) GetAll(handle int64) ([]Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.validLocked(handle) {
		return nil, rterrors.New(rterrors.KindPathInvalid, "tensor handle out of window")
	}
	idx := int(handle % int64(r.capacity))
	stored := r.slots[idx]
	out := make([]Tensor, len(stored))
	copy(out, stored)
	return out, nil
}
