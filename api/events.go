package api

import (
	"errors"
	"net/http"
	"time"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/emitter"
	"github.com/hypothesize-tech/courier/event"
	"github.com/hypothesize-tech/courier/id"
)

type emitEventRequest struct {
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	ProjectID string            `json:"project_id,omitempty"`
	Data      event.Payload     `json:"data"`
	Immediate bool              `json:"immediate,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var opts []emitter.EmitOption
	if req.ProjectID != "" {
		opts = append(opts, emitter.WithProjectID(req.ProjectID))
	}
	if req.Immediate {
		opts = append(opts, emitter.WithImmediate())
	}
	if req.Metadata != nil {
		opts = append(opts, emitter.WithEventMetadata(req.Metadata))
	}

	evt, err := h.core.Emit(r.Context(), req.Type, req.UserID, req.Data, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
	}
	if from := queryParam(r, "from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
			return
		}
		opts.From = &t
	}
	if to := queryParam(r, "to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
			return
		}
		opts.To = &t
	}

	var (
		events []*event.Event
		err    error
	)
	if userID := queryParam(r, "user_id"); userID != "" {
		events, err = h.store.ListEventsByUser(r.Context(), userID, opts)
	} else {
		events, err = h.store.ListEvents(r.Context(), opts)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.store.GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, courier.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}
