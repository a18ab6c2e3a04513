// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package cloud implements the offloading worker's wire transport: the
// request/response RPC of spec.md §6 carried over HTTP+JSON instead of
// the original's gRPC stubs (see SPEC_FULL.md §4.G — this module can't
// invoke protoc, so there's nothing to generate the .pb.go stubs from).
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgerun/plannerd/pkg/auth"
	plannerctx "github.com/edgerun/plannerd/pkg/context"
	rterrors "github.com/edgerun/plannerd/pkg/errors"
	"github.com/edgerun/plannerd/pkg/logging"
	"github.com/edgerun/plannerd/pkg/middleware"
	"github.com/edgerun/plannerd/pkg/pool"
	"github.com/edgerun/plannerd/pkg/retry"
)

// InvokeRequest is the wire payload sent to an offloading target:
// model identity plus the raw input tensor bytes.
type InvokeRequest struct {
	Model     string `json:"model"`
	Height    int    `json:"height"`
	Width     int    `json:"width"`
	DataBytes []byte `json:"data_bytes"`
}

// InvokeResponse is the offloading target's reply: the wall-clock time
// it spent computing, plus the output tensor bytes.
type InvokeResponse struct {
	ComputationTimeMS int64  `json:"computation_time_ms"`
	DataBytes         []byte `json:"data_bytes"`
}

// Client is an HTTP+JSON RPC client for one offloading target,
// reproducing the original's splash_grpc_client.h request/response
// contract without a codegen step.
type Client struct {
	endpoint string
	auth     auth.Provider
	backoff  retry.BackoffStrategy
	client   *http.Client
	logger   logging.Logger
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithAuth attaches an auth.Provider (token/basic/none) for the
// configured offloading_target.
func WithAuth(p auth.Provider) ClientOption {
	return func(c *Client) { c.auth = p }
}

// WithBackoff overrides the default retry.ExponentialBackoff used for
// transient transport failures.
func WithBackoff(b retry.BackoffStrategy) ClientOption {
	return func(c *Client) { c.backoff = b }
}

// NewClient builds a Client against endpoint, pooling connections
// through clientPool and chaining timeout/logging/retry middleware
// around the transport the pool hands back.
func NewClient(endpoint string, clientPool *pool.HTTPClientPool, logger logging.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	base := clientPool.GetClient(endpoint)

	chain := middleware.Chain(
		middleware.WithTimeout(plannerctx.DefaultLongTimeout),
		middleware.WithLogging(logger),
		middleware.WithRetry(3, middleware.DefaultShouldRetry),
	)
	httpClient := &http.Client{
		Transport: chain(base.Transport),
		Timeout:   base.Timeout,
	}

	c := &Client{
		endpoint: endpoint,
		auth:     auth.NewNoAuth(),
		backoff:  retry.NewExponentialBackoff(),
		client:   httpClient,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends one offload request and blocks for the response,
// retrying transient failures per c.backoff. The model name, tensor
// dimensions, and data bytes mirror spec.md §6's offload wire shape.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
	var resp InvokeResponse
	err := retry.Retry(ctx, c.backoff, func() error {
		r, err := c.doRequest(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "offload invoke failed", err).
			WithDetails(fmt.Sprintf("endpoint=%s model=%s", c.endpoint, req.Model))
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "encode offload request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "build offload request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.auth.Authenticate(ctx, httpReq); err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "authenticate offload request", err)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "offload round trip", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return InvokeResponse{}, rterrors.New(rterrors.KindCloudUnavailable, fmt.Sprintf("offload target returned %d", httpResp.StatusCode))
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "read offload response", err)
	}
	var out InvokeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return InvokeResponse{}, rterrors.Wrap(rterrors.KindCloudUnavailable, "decode offload response", err)
	}
	return out, nil
}

// Latency reports the offload target's own reported computation time
// as a time.Duration, for folding into the cloud cost model.
func (r InvokeResponse) Latency() time.Duration {
	return time.Duration(r.ComputationTimeMS) * time.Millisecond
}
