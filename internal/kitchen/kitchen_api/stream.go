package kitchen_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var heartbeatInterval = 25 * time.Second

// Stream pushes ticket events to a board screen as server-sent events.
// ?station= narrows the feed to one station.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	station := r.URL.Query().Get("station")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	events := h.Board.Subscribe(ctx, station)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"station\":%q}\n\n", station)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Board connected (station=%q)", station))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize ticket event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Board disconnected (station=%q)", station))
			return
		}
	}
}
