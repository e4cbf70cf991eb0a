package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/calendar"
)

type AvailabilityHandler struct {
	svc    *calendar.Service
	logger *slog.Logger
}

func NewAvailabilityHandler(svc *calendar.Service, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, logger: logger}
}

func (h *AvailabilityHandler) FreeBusy(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	users, err := parseIDList(r.URL.Query().Get("users"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "users: "+err.Error())
		return
	}

	fb, err := h.svc.GetFreeBusy(r.Context(), auth.HouseholdID(r.Context()), users, from, to)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// Slots lists gaps of at least duration (e.g. "30m") where every listed
// user is free.
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	users, err := parseIDList(q.Get("users"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "users: "+err.Error())
		return
	}
	duration, err := time.ParseDuration(q.Get("duration"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "duration must be a Go duration such as 30m or 1h30m")
		return
	}

	slots, err := h.svc.FindSlots(r.Context(), auth.HouseholdID(r.Context()), users, duration, from, to)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}
