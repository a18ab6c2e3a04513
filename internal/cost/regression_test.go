// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_AppendReusesOldestSlotOnceFull(t *testing.T) {
	w := newSlidingWindow(2)
	w.Append([]float64{1}, 10)
	w.Append([]float64{2}, 20)
	assert.Equal(t, 2, w.Len())

	w.Append([]float64{3}, 30)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []float64{3}, w.rows[0])
	assert.Equal(t, []float64{2}, w.rows[1])
}

func TestSlidingWindow_FitExactLinearFit(t *testing.T) {
	w := newSlidingWindow(10)
	// y = 2x + 3, feature row [x, 1]
	for x := 0.0; x < 5; x++ {
		w.Append([]float64{x, 1}, 2*x+3)
	}
	coeffs, ok := w.Fit()
	require.True(t, ok)
	require.Len(t, coeffs, 2)
	assert.InDelta(t, 2, coeffs[0], 1e-6)
	assert.InDelta(t, 3, coeffs[1], 1e-6)

	assert.InDelta(t, 13, predict(coeffs, []float64{5, 1}), 1e-6)
}

func TestSlidingWindow_FitEmptyReturnsFalse(t *testing.T) {
	w := newSlidingWindow(10)
	_, ok := w.Fit()
	assert.False(t, ok)
}

func TestSlidingWindow_FitSingularReturnsFalse(t *testing.T) {
	w := newSlidingWindow(10)
	// two identical columns make X^T X singular.
	w.Append([]float64{1, 1}, 5)
	w.Append([]float64{2, 2}, 10)
	_, ok := w.Fit()
	assert.False(t, ok)
}
