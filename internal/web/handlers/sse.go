package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kozaktomas/wasl-gate/internal/call"
)

// setupSSEConnection finds the flow and sets up SSE headers.
// On failure it writes an error response and returns false.
func (h *CallsHandler) setupSSEConnection(w http.ResponseWriter, r *http.Request) (*call.Flow, http.Flusher, bool) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return flow, flusher, true
}

// Events streams view and verification updates of a flow until the client
// disconnects or the flow is closed.
func (h *CallsHandler) Events(w http.ResponseWriter, r *http.Request) {
	flow, flusher, ok := h.setupSSEConnection(w, r)
	if !ok {
		return
	}

	eventCh := flow.AddListener()
	defer flow.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, call.EventState, flow.State())

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if event.Type == call.EventClosed {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
