package api

import (
	"errors"
	"net/http"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/delivery"
	"github.com/hypothesize-tech/courier/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	statusStr := queryParam(r, "status")
	if statusStr != "" {
		status := delivery.Status(statusStr)
		opts.Status = &status
	}

	deliveries, listErr := h.store.ListBySubscription(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, getErr := h.store.GetDelivery(r.Context(), delID)
	if getErr != nil {
		if errors.Is(getErr, courier.ErrDeliveryNotFound) {
			writeError(w, http.StatusNotFound, "delivery not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) replayDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, replayErr := h.core.Replay(r.Context(), delID)
	if replayErr != nil {
		switch {
		case errors.Is(replayErr, courier.ErrDeliveryNotFound):
			writeError(w, http.StatusNotFound, "delivery not found")
		case errors.Is(replayErr, courier.ErrSubscriptionInactive):
			writeError(w, http.StatusConflict, "subscription is inactive")
		default:
			writeError(w, http.StatusInternalServerError, replayErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, d)
}
