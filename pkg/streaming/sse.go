// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/edgerun/plannerd/pkg/watch"
)

// SSEServer streams finished-job events as Server-Sent Events, for
// clients that only need a one-way feed (e.g. a browser dashboard).
type SSEServer struct {
	watcher jobWatcher
}

// NewSSEServer wraps watcher.
func NewSSEServer(watcher jobWatcher) *SSEServer {
	return &SSEServer{watcher: watcher}
}

// SSEEvent is one frame of the text/event-stream response.
type SSEEvent struct {
	ID    string
	Event string
	Data  interface{}
}

// HandleSSE streams finished-job events until the client disconnects
// or the request context is cancelled.
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events, err := s.watcher.Watch(ctx, optionsFromQuery(r))
	if err != nil {
		writeSSEEvent(w, flusher, SSEEvent{Event: "error", Data: map[string]string{"error": err.Error()}})
		return
	}

	writeSSEEvent(w, flusher, SSEEvent{Event: "connected", Data: map[string]string{"status": "connected"}})

	seq := int64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				writeSSEEvent(w, flusher, SSEEvent{Event: "stream_closed", Data: map[string]string{"status": "closed"}})
				return
			}
			seq++
			writeSSEEvent(w, flusher, SSEEvent{ID: fmt.Sprintf("job-%d", seq), Event: "job_event", Data: ev})
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event SSEEvent) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	if event.Event != "" {
		fmt.Fprintf(w, "event: %s\n", event.Event)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		fmt.Fprintf(w, "data: {\"error\": \"failed to marshal data\"}\n\n")
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// optionsFromQuery builds WatchOptions from a request's query string:
// repeatable model_id params and an exclude_success flag.
func optionsFromQuery(r *http.Request) *watch.WatchOptions {
	opts := &watch.WatchOptions{}
	for _, raw := range r.URL.Query()["model_id"] {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			opts.ModelIDs = append(opts.ModelIDs, id)
		}
	}
	if v := r.URL.Query().Get("exclude_success"); v == "true" || v == "1" {
		opts.ExcludeSuccess = true
	}
	return opts
}
