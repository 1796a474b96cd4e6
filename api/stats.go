package api

import (
	"net/http"
)

type statsResponse struct {
	PendingDeliveries int64 `json:"pending_deliveries"`
	DeadLetters       int64 `json:"dead_letters"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.store.CountPending(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	deadLetters, err := h.dlqSvc.Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingDeliveries: pending,
		DeadLetters:       deadLetters,
	})
}
