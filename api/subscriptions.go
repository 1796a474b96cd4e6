package api

import (
	"errors"
	"net/http"
	"time"

	courier "github.com/hypothesize-tech/courier"
	"github.com/hypothesize-tech/courier/id"
	"github.com/hypothesize-tech/courier/subscription"
)

type subscriptionRequest struct {
	UserID      string                   `json:"user_id"`
	URL         string                   `json:"url"`
	Description string                   `json:"description,omitempty"`
	EventTypes  []string                 `json:"event_types"`
	Auth        subscription.Auth        `json:"auth,omitempty"`
	Filters     subscription.Filters     `json:"filters,omitempty"`
	Headers     map[string]string        `json:"headers,omitempty"`
	Secret      string                   `json:"secret,omitempty"`
	Template    string                   `json:"template,omitempty"`
	Retry       subscription.RetryPolicy `json:"retry,omitempty"`
	TimeoutMs   int64                    `json:"timeout_ms,omitempty"`
	RateLimit   int                      `json:"rate_limit,omitempty"`
	Metadata    map[string]string        `json:"metadata,omitempty"`
}

func (req *subscriptionRequest) input() subscription.Input {
	return subscription.Input{
		UserID:      req.UserID,
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		Auth:        req.Auth,
		Filters:     req.Filters,
		Headers:     req.Headers,
		Secret:      req.Secret,
		Template:    req.Template,
		Retry:       req.Retry,
		Timeout:     time.Duration(req.TimeoutMs) * time.Millisecond,
		RateLimit:   req.RateLimit,
		Metadata:    req.Metadata,
	}
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subSvc.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := queryParam(r, "user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	switch queryParam(r, "active") {
	case "true":
		active := true
		opts.Active = &active
	case "false":
		active := false
		opts.Active = &active
	}

	subs, err := h.subSvc.List(r.Context(), userID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.subSvc.Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, updateErr := h.subSvc.Update(r.Context(), subID, req.input())
	if updateErr != nil {
		if errors.Is(updateErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.subSvc.Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	reason := ""
	if !active {
		reason = "deactivated via admin api"
	}

	if setErr := h.subSvc.SetActive(r.Context(), subID, active, reason); setErr != nil {
		if errors.Is(setErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, setErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	newSecret, rotateErr := h.subSvc.RotateSecret(r.Context(), subID)
	if rotateErr != nil {
		if errors.Is(rotateErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": newSecret})
}
