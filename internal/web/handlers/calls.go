package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/wasl-gate/internal/call"
	"github.com/kozaktomas/wasl-gate/internal/shell"
)

// CallsHandler exposes call flows over HTTP, one flow per visitor.
type CallsHandler struct {
	calls *call.Manager
}

// NewCallsHandler creates a new calls handler
func NewCallsHandler(calls *call.Manager) *CallsHandler {
	return &CallsHandler{calls: calls}
}

// CreateMeetingRequest is the body of POST /calls/{id}/meeting.
type CreateMeetingRequest struct {
	Name string `json:"name"`
}

// JoinMeetingRequest is the body of POST /calls/{id}/join.
type JoinMeetingRequest struct {
	Name      string `json:"name"`
	MeetingID string `json:"meetingId"`
}

// ViewRequest is the body of POST /calls/{id}/view.
type ViewRequest struct {
	View call.View `json:"view"`
}

// lookupFlow finds the flow named in the URL or writes a 404.
func (h *CallsHandler) lookupFlow(w http.ResponseWriter, r *http.Request) *call.Flow {
	return findFlow(w, r, h.calls)
}

func findFlow(w http.ResponseWriter, r *http.Request, calls *call.Manager) *call.Flow {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing call ID")
		return nil
	}
	flow := calls.Get(id)
	if flow == nil {
		respondError(w, http.StatusNotFound, "call not found")
		return nil
	}
	return flow
}

// Create starts a new flow from the visitor's entry parameters.
func (h *CallsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var entry call.Entry
	if err := decodeJSON(r, &entry); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	flow := h.calls.Create()
	if err := flow.Start(r.Context(), entry); err != nil {
		// Start failures are reflected in the flow state; the flow itself exists.
		log.Printf("call %s: start: %s", flow.ID(), sanitizeForLog(err.Error()))
	}
	respondJSON(w, http.StatusCreated, flow.State())
}

// Get returns the flow state.
func (h *CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return
	}
	respondJSON(w, http.StatusOK, flow.State())
}

// Delete closes the flow, leaving any room it is in.
func (h *CallsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.calls.Delete(r.Context(), id) {
		respondError(w, http.StatusNotFound, "call not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetView switches between the home and join views.
func (h *CallsHandler) SetView(w http.ResponseWriter, r *http.Request) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return
	}
	var req ViewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var err error
	switch req.View {
	case call.ViewJoin:
		err = flow.OpenJoin()
	case call.ViewHome:
		err = flow.Back()
	default:
		respondError(w, http.StatusBadRequest, "view must be home or join")
		return
	}
	h.respondFlow(w, flow, err)
}

// CreateMeeting creates a meeting from the home view and enters it.
func (h *CallsHandler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return
	}
	var req CreateMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	h.respondFlow(w, flow, flow.CreateMeeting(r.Context(), req.Name))
}

// JoinMeeting joins an existing meeting. A flow still on the home view is
// moved to the join view first.
func (h *CallsHandler) JoinMeeting(w http.ResponseWriter, r *http.Request) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return
	}
	var req JoinMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if flow.State().View == call.ViewHome {
		_ = flow.OpenJoin()
	}
	h.respondFlow(w, flow, flow.JoinMeeting(r.Context(), req.Name, req.MeetingID))
}

// Leave leaves the room and resets the flow to home.
func (h *CallsHandler) Leave(w http.ResponseWriter, r *http.Request) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return
	}
	h.respondFlow(w, flow, flow.Leave(r.Context()))
}

// RetryVerification refetches the participant record after a failure.
func (h *CallsHandler) RetryVerification(w http.ResponseWriter, r *http.Request) {
	flow := h.lookupFlow(w, r)
	if flow == nil {
		return
	}
	h.respondFlow(w, flow, flow.RetryVerification(r.Context()))
}

// respondFlow maps a flow operation result to a response carrying the flow state.
func (h *CallsHandler) respondFlow(w http.ResponseWriter, flow *call.Flow, err error) {
	if err == nil {
		respondJSON(w, http.StatusOK, flow.State())
		return
	}

	state := flow.State()
	message := state.Error
	if message == "" {
		message = err.Error()
	}

	// Everything else failed upstream.
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, call.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, call.ErrWrongView), errors.Is(err, shell.ErrNotRetryable), errors.Is(err, shell.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, call.ErrClosed), errors.Is(err, shell.ErrClosed):
		status = http.StatusGone
	}
	if status >= http.StatusInternalServerError {
		log.Printf("call %s: %s", flow.ID(), sanitizeForLog(err.Error()))
	}
	respondJSON(w, status, map[string]any{"error": message, "call": state})
}
