// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package streaming exposes pkg/watch's finished-job feed over
// WebSocket and Server-Sent Events, for dashboards that want to follow
// completions live instead of polling GetFinishedJob.
package streaming

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgerun/plannerd/pkg/logging"
	"github.com/edgerun/plannerd/pkg/watch"
)

// jobWatcher is the subset of *watch.JobWatcher the transports need.
type jobWatcher interface {
	Watch(ctx context.Context, opts *watch.WatchOptions) (<-chan watch.JobEvent, error)
}

// WebSocketServer pushes finished-job events to a single WebSocket
// connection per client, one stream per socket.
type WebSocketServer struct {
	watcher  jobWatcher
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketServer wraps watcher. logger defaults to a no-op logger
// if nil.
func NewWebSocketServer(watcher jobWatcher, logger logging.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &WebSocketServer{
		watcher: watcher,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// StreamMessage is one frame sent over the WebSocket connection.
type StreamMessage struct {
	Type      string         `json:"type"`
	Event     watch.JobEvent `json:"event,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HandleWebSocket upgrades r and streams finished-job events until the
// client disconnects. Query parameter model_id, repeatable, restricts
// the feed to those models.
func (ws *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go ws.drainIncoming(conn, cancel)

	events, err := ws.watcher.Watch(ctx, optionsFromQuery(r))
	if err != nil {
		ws.sendMessage(conn, StreamMessage{Type: "error", Error: err.Error(), Timestamp: time.Now()})
		return
	}

	ws.keepAlive(ctx, conn, events)
}

// drainIncoming discards client frames; a closed or broken socket
// cancels the stream.
func (ws *WebSocketServer) drainIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *WebSocketServer) keepAlive(ctx context.Context, conn *websocket.Conn, events <-chan watch.JobEvent) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				ws.sendMessage(conn, StreamMessage{Type: "stream_closed", Timestamp: time.Now()})
				return
			}
			ws.sendMessage(conn, StreamMessage{Type: "event", Event: ev, Timestamp: time.Now()})
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.logger.Warn("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (ws *WebSocketServer) sendMessage(conn *websocket.Conn, msg StreamMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		ws.logger.Warn("websocket write failed", "error", err)
	}
}
