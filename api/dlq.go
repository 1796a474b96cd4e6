package api

import (
	"errors"
	"net/http"
	"time"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/dlq"
	"github.com/hypothesize-tech/courier/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		Operation: queryParam(r, "operation"),
		UserID:    queryParam(r, "user_id"),
		Unhandled: queryParam(r, "unhandled") == "true",
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

	entries, err := h.dlqSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDeadLetterID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dead letter ID")
		return
	}

	if replayErr := h.dlqSvc.Replay(r.Context(), entryID); replayErr != nil {
		if errors.Is(replayErr, courier.ErrDeadLetterNotFound) {
			writeError(w, http.StatusNotFound, "dead letter entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, replayErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	count, err := h.dlqSvc.Purge(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"purged": count})
}
