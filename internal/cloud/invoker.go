// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cloud

import (
	"context"
	"sync"
	"time"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/job"
	rterrors "github.com/edgerun/plannerd/pkg/errors"
)

// ModelNamer resolves a model_id to the name the offloading target
// expects in its wire request.
type ModelNamer func(modelID int) string

// Invoker adapts Client to internal/worker.Invoker: one offload worker
// backed by a single offloading_target endpoint. Actual tensor payload
// marshaling is left minimal (spec.md §1 scopes tensor kernels out of
// this module entirely, same as every local Invoker); this seam only
// owns the wire round trip and the health/backoff bookkeeping a real
// delegate wrapper would also need.
type Invoker struct {
	client     *Client
	modelName  ModelNamer
	dataSize   int64
	timeout    time.Duration

	mu             sync.Mutex
	consecutiveErr int
	unhealthyAfter int
}

// NewInvoker wraps client as a worker.Invoker. dataSize is the size of
// the zero-filled placeholder payload (spec.md §6's
// offloading_data_size) sent with every request; the job's own tensor
// bytes are not sent.
// unhealthyAfter is the number of consecutive round-trip failures
// before Available() reports false; 0 disables the health gate.
func NewInvoker(client *Client, modelName ModelNamer, dataSize int64, timeout time.Duration, unhealthyAfter int) *Invoker {
	if modelName == nil {
		modelName = func(id int) string { return "" }
	}
	return &Invoker{client: client, modelName: modelName, dataSize: dataSize, timeout: timeout, unhealthyAfter: unhealthyAfter}
}

// Invoke sends j's subgraph to the offloading target and blocks for
// the reply. A transport-level failure is reported as KindDelegateError
// so the worker's availability loop, not a terminal invoke_failure,
// handles recovery.
func (inv *Invoker) Invoke(j *job.Job, sg *catalog.Subgraph) error {
	ctx := context.Background()
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	req := InvokeRequest{
		Model:     inv.modelName(j.ModelID),
		DataBytes: make([]byte, inv.dataSize),
	}
	if j.InputBytes == 0 {
		j.InputBytes = int64(len(req.DataBytes))
	}

	resp, err := inv.client.Invoke(ctx, req)
	if err != nil {
		inv.recordFailure()
		return rterrors.Wrap(rterrors.KindDelegateError, "offloading target unreachable", err)
	}

	inv.recordSuccess()
	j.ProfiledLatency = resp.Latency()
	j.ComputationTime = resp.Latency()
	j.OutputBytes = int64(len(resp.DataBytes))
	return nil
}

// Available reports whether recent offload round trips have been
// succeeding; always true if unhealthyAfter is 0.
func (inv *Invoker) Available() bool {
	if inv.unhealthyAfter <= 0 {
		return true
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.consecutiveErr < inv.unhealthyAfter
}

func (inv *Invoker) recordFailure() {
	inv.mu.Lock()
	inv.consecutiveErr++
	inv.mu.Unlock()
}

func (inv *Invoker) recordSuccess() {
	inv.mu.Lock()
	inv.consecutiveErr = 0
	inv.mu.Unlock()
}
