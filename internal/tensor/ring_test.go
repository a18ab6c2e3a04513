// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/edgerun/plannerd/pkg/errors"
)

func TestRing_AllocHandlesAreSequential(t *testing.T) {
	r := New(4)
	assert.Equal(t, int64(0), r.Alloc())
	assert.Equal(t, int64(1), r.Alloc())
	assert.Equal(t, int64(2), r.Alloc())
}

func TestRing_NewDefaultsCapacity(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultCapacity, r.capacity)
}

func TestRing_PutGetRoundTrip(t *testing.T) {
	r := New(4)
	h := r.Alloc()
	in := []Tensor{{Data: []byte{1, 2, 3}, Shape: []int{3}}}
	require.NoError(t, r.Put(h, in))

	out, err := r.GetAll(h)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	dst := make([]Tensor, 1)
	require.NoError(t, r.Get(h, dst))
	assert.Equal(t, in, dst)
}

func TestRing_GetShapeMismatch(t *testing.T) {
	r := New(4)
	h := r.Alloc()
	require.NoError(t, r.Put(h, []Tensor{{Data: []byte{1}}}))

	dst := make([]Tensor, 2)
	err := r.Get(h, dst)
	require.Error(t, err)
	assert.True(t, rterrors.IsKind(err, rterrors.KindTensorShapeMismatch))
}

func TestRing_HandleAgesOutOfWindow(t *testing.T) {
	r := New(2)
	h := r.Alloc() // handle 0
	r.Alloc()      // handle 1
	r.Alloc()      // handle 2, pushes handle 0 out of the window

	assert.False(t, r.Valid(h))
	err := r.Put(h, []Tensor{{}})
	require.Error(t, err)
	assert.True(t, rterrors.IsKind(err, rterrors.KindPathInvalid))

	_, err = r.GetAll(h)
	require.Error(t, err)
	assert.True(t, rterrors.IsKind(err, rterrors.KindPathInvalid))
}

func TestRing_UnallocatedHandleInvalid(t *testing.T) {
	r := New(4)
	assert.False(t, r.Valid(5))
	_, err := r.GetAll(5)
	require.Error(t, err)
}

func TestTotalBytes(t *testing.T) {
	assert.Equal(t, int64(0), TotalBytes(nil))
	tensors := []Tensor{
		{Data: make([]byte, 10)},
		{Data: make([]byte, 20)},
		{Data: nil},
	}
	assert.Equal(t, int64(30), TotalBytes(tensors))
}
