package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"scraperd/pkg/api"
)

// StreamLogs handles GET /api/scraper/logs/{id}.
// Streams job log lines as server-sent events. The buffered tail is
// replayed first, then live lines until the stream closes or the
// client disconnects.
func (h *Handlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	sub, err := h.orch.AttachLogs(r.Context(), jobID)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.httpError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, open := <-sub.Lines:
			if !open {
				fmt.Fprint(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(api.LogEvent{JobID: jobID, Line: line})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
