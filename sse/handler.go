// Package sse provides a Server-Sent Events handler that streams broadcast
// events to HTTP clients. Each connection owns one bus session for as long
// as the request lives.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/petal-labs/flowmcp/bus"
)

// HeartbeatInterval is the default interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// HandlerConfig configures an SSEHandler.
type HandlerConfig struct {
	Bus bus.EventBus

	// HeartbeatInterval overrides the ping comment interval (default: 15s).
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// SSEHandler serves the broadcast stream. A client receives only events
// emitted after it connected; there is no replay.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A comment ": ok" opens the stream and ": ping" is sent on every heartbeat.
// The stream ends when the client disconnects or the bus is closed.
type SSEHandler struct {
	bus       bus.EventBus
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewSSEHandler creates a new SSEHandler.
func NewSSEHandler(cfg HandlerConfig) *SSEHandler {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = HeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{
		bus:       cfg.Bus,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.bus.Subscribe()
	defer sub.Close()

	logger := h.logger.With("session", sub.ID())
	logger.Debug("sse session opened", "remote", r.RemoteAddr)
	defer logger.Debug("sse session closed")

	if _, err := fmt.Fprint(w, ": ok\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSEEvent(w, evt); err != nil {
				logger.Debug("sse write failed", "error", err)
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt bus.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}
