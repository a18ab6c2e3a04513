// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cloud

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/pkg/pool"
	"github.com/edgerun/plannerd/pkg/retry"
)

func TestInvoker_InvokeSetsProfiledLatency(t *testing.T) {
	srv := NewServer(fakeExecutor{took: 7 * time.Millisecond, data: []byte("y")}, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient(ts.URL, pool.NewHTTPClientPool(nil, nil), nil)
	inv := NewInvoker(c, func(id int) string { return "m" }, 16, time.Second, 3)

	j := job.NewJob(uuid.New(), 1, job.NoSLO)
	err := inv.Invoke(j, nil)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Millisecond, j.ProfiledLatency)
	assert.True(t, inv.Available())
}

func TestInvoker_BecomesUnavailableAfterFailures(t *testing.T) {
	srv := NewServer(fakeExecutor{err: assertErr{}}, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient(ts.URL, pool.NewHTTPClientPool(nil, nil), nil, WithBackoff(retry.NewConstantBackoff(0, 0)))
	inv := NewInvoker(c, nil, 0, time.Second, 2)

	j := job.NewJob(uuid.New(), 1, job.NoSLO)
	_ = inv.Invoke(j, nil)
	assert.True(t, inv.Available())
	_ = inv.Invoke(j, nil)
	assert.False(t, inv.Available())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
