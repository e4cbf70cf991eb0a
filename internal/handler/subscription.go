package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/icssync"
)

type SubscriptionHandler struct {
	svc    *icssync.Service
	logger *slog.Logger
}

func NewSubscriptionHandler(svc *icssync.Service, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc, logger: logger}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required,max=100"`
		URL  string `json:"url" validate:"required,max=2048"`
	}
	if !decode(w, r, &req) {
		return
	}
	ac, _ := auth.FromContext(r.Context())

	sub, err := h.svc.Create(r.Context(), ac.HouseholdID, ac.UserID, req.Name, req.URL)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	subs, err := h.svc.List(r.Context(), ac.HouseholdID, ac.UserID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if err := h.svc.Delete(r.Context(), ac.HouseholdID, ac.UserID, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync fetches the subscription now. A failed fetch is not a request error:
// the response carries the recorded sync status.
func (h *SubscriptionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	sub, err := h.svc.SyncNow(r.Context(), ac.HouseholdID, ac.UserID, id)
	if sub == nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err != nil {
		h.logger.Debug("manual sync failed", "subscription_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, sub)
}
