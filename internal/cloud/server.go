// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edgerun/plannerd/pkg/auth"
	"github.com/edgerun/plannerd/pkg/logging"
)

// Executor runs one offloaded invocation and reports how long it took;
// satisfied by whatever remote inference backend the offloading_target
// process wraps (out of scope here, per spec.md §1 — this package only
// owns the wire protocol).
type Executor interface {
	Execute(ctx context.Context, req InvokeRequest) (data []byte, took time.Duration, err error)
}

// Server exposes an Executor over the same HTTP+JSON contract Client
// speaks, for use in tests and in a standalone offloading_target binary.
type Server struct {
	executor Executor
	auth     auth.Provider
	logger   logging.Logger
}

// NewServer wraps executor behind the offload HTTP handler. auth may
// be nil, in which case every request is accepted.
func NewServer(executor Executor, authProvider auth.Provider, logger logging.Logger) *Server {
	if authProvider == nil {
		authProvider = auth.NewNoAuth()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{executor: executor, auth: authProvider, logger: logger}
}

// ServeHTTP implements http.Handler for POST /invoke.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.auth.Authenticate(r.Context(), r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	data, took, err := s.executor.Execute(r.Context(), req)
	if err != nil {
		s.logger.Error("offload execution failed", "model", req.Model, "error", err)
		http.Error(w, "execution failed", http.StatusInternalServerError)
		return
	}

	resp := InvokeResponse{
		ComputationTimeMS: took.Milliseconds(),
		DataBytes:         data,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
