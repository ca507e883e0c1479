package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
	"github.com/fernwood-labs/messenger-sync/pkg/metrics"
)

// StreamHandler serves the SSE feed of store change events.
type StreamHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(st *store.Store, log *logger.Logger) *StreamHandler {
	return &StreamHandler{store: st, logger: log}
}

// heartbeatEvent keeps idle connections alive.
type heartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/stream
//
// Sends an initial snapshot marker, then relays live store events until the
// client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.StreamConnectionsActive.Inc()
	defer metrics.StreamConnectionsActive.Dec()

	subID, events := h.store.Subscribe()
	defer h.store.Unsubscribe(subID)

	// The snapshot marker tells the client to fetch current state over the
	// regular endpoints before trusting incremental events.
	sendSSEEvent(w, flusher, "connected", map[string]int{
		"conversations": len(h.store.Conversations()),
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected")
			return

		case ev, open := <-events:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, string(ev.Type), ev)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", heartbeatEvent{Timestamp: time.Now()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
