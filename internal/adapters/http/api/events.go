package api

import (
	"fmt"
	"net/http"

	"github.com/okian/noticeledger/internal/domain/types"
)

// EventsHandler serves the active window.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type listResponse struct {
	Count  int               `json:"count"`
	Events []types.EventView `json:"events"`
}

// HandleList handles GET /events.
func (h *EventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	events := h.deps.List()
	views := make([]types.EventView, 0, len(events))
	for i := range events {
		views = append(views, types.FromEvent(events[i]))
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(views), Events: views})
}

// HandleGet handles GET /events/{name}.
func (h *EventsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	name, ok := eventName(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	ev, err := h.deps.Get(name)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("%w: %s", ErrNotFound, name))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromEvent(ev))
}
