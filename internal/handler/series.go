package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/calendar"
	"github.com/dukerupert/homebase/internal/model"
)

type SeriesHandler struct {
	svc    *calendar.Service
	logger *slog.Logger
}

func NewSeriesHandler(svc *calendar.Service, logger *slog.Logger) *SeriesHandler {
	return &SeriesHandler{svc: svc, logger: logger}
}

type memberRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Kind   string `json:"kind" validate:"required,oneof=involved aware"`
}

type createSeriesRequest struct {
	Title           string          `json:"title" validate:"required,max=200"`
	Description     string          `json:"description" validate:"max=4000"`
	Location        string          `json:"location" validate:"max=200"`
	StartTime       time.Time       `json:"start_time" validate:"required"`
	EndTime         time.Time       `json:"end_time" validate:"required"`
	AllDay          bool            `json:"all_day"`
	RecurrenceRule  string          `json:"recurrence_rule"`
	ReminderMinutes *int            `json:"reminder_minutes" validate:"omitempty,min=0"`
	Color           string          `json:"color" validate:"max=32"`
	Members         []memberRequest `json:"members" validate:"dive"`
}

// optional distinguishes an absent JSON field from one set to a value,
// including null.
type optional[T any] struct {
	set   bool
	value T
}

func (o *optional[T]) UnmarshalJSON(b []byte) error {
	o.set = true
	return json.Unmarshal(b, &o.value)
}

func (o optional[T]) option() mo.Option[T] {
	if !o.set {
		return mo.None[T]()
	}
	return mo.Some(o.value)
}

type changesRequest struct {
	Title           optional[string]    `json:"title"`
	Description     optional[string]    `json:"description"`
	Location        optional[string]    `json:"location"`
	StartTime       optional[time.Time] `json:"start_time"`
	EndTime         optional[time.Time] `json:"end_time"`
	AllDay          optional[bool]      `json:"all_day"`
	RecurrenceRule  optional[string]    `json:"recurrence_rule"`
	Color           optional[string]    `json:"color"`
	ReminderMinutes optional[*int]      `json:"reminder_minutes"`
}

func (c changesRequest) changes() calendar.Changes {
	title := c.Title.option()
	if v, ok := title.Get(); ok {
		title = mo.Some(strings.TrimSpace(v))
	}
	return calendar.Changes{
		Title:           title,
		Description:     c.Description.option(),
		Location:        c.Location.option(),
		Start:           c.StartTime.option(),
		End:             c.EndTime.option(),
		AllDay:          c.AllDay.option(),
		RecurrenceRule:  c.RecurrenceRule.option(),
		Color:           c.Color.option(),
		ReminderMinutes: c.ReminderMinutes.option(),
	}
}

type editRequest struct {
	Scope         string         `json:"scope" validate:"required"`
	OriginalStart time.Time      `json:"original_start"`
	Delete        bool           `json:"delete"`
	Changes       changesRequest `json:"changes"`
}

func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSeriesRequest
	if !decode(w, r, &req) {
		return
	}
	ac, _ := auth.FromContext(r.Context())

	members := make([]model.Member, 0, len(req.Members))
	for _, m := range req.Members {
		members = append(members, model.Member{UserID: m.UserID, Kind: model.ParticipationKind(m.Kind)})
	}

	series, err := h.svc.CreateSeries(r.Context(), ac.HouseholdID, ac.UserID, calendar.SeriesInput{
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Location:        req.Location,
		Start:           req.StartTime,
		End:             req.EndTime,
		AllDay:          req.AllDay,
		RecurrenceRule:  req.RecurrenceRule,
		ReminderMinutes: req.ReminderMinutes,
		Color:           req.Color,
		Members:         members,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, series)
}

func (h *SeriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	series, err := h.svc.GetSeries(r.Context(), auth.HouseholdID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// Update applies a partial update to every occurrence of the series.
func (h *SeriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req changesRequest
	if !decode(w, r, &req) {
		return
	}
	series, err := h.svc.UpdateSeries(r.Context(), auth.HouseholdID(r.Context()), id, req.changes())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *SeriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.svc.DeleteSeries(r.Context(), auth.HouseholdID(r.Context()), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Edit applies a scoped edit to one occurrence of a series.
func (h *SeriesHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req editRequest
	if !decode(w, r, &req) {
		return
	}
	scope, err := calendar.ParseScope(req.Scope)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if scope != calendar.AllEvents && req.OriginalStart.IsZero() {
		writeMessage(w, http.StatusBadRequest, "original_start is required for scope "+scope.String())
		return
	}

	result, err := h.svc.ApplyEdit(r.Context(), calendar.EditRequest{
		HouseholdID:   auth.HouseholdID(r.Context()),
		SeriesID:      id,
		OriginalStart: req.OriginalStart,
		Scope:         scope,
		Changes:       req.Changes.changes(),
		Delete:        req.Delete,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SeriesHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req memberRequest
	if !decode(w, r, &req) {
		return
	}
	h.setMember(w, r, id, req.UserID, req.Kind)
}

func (h *SeriesHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	userID, err := parseIDParam(r, "user_id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req struct {
		Kind string `json:"kind" validate:"required,oneof=involved aware"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.setMember(w, r, id, userID, req.Kind)
}

func (h *SeriesHandler) setMember(w http.ResponseWriter, r *http.Request, seriesID, userID int64, kind string) {
	series, err := h.svc.SetMember(r.Context(), auth.HouseholdID(r.Context()), seriesID, userID, model.ParticipationKind(kind))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *SeriesHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	userID, err := parseIDParam(r, "user_id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := h.svc.RemoveMember(r.Context(), auth.HouseholdID(r.Context()), id, userID); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Occurrences lists occurrences in [from, to), optionally narrowed by
// series_id, users and kinds.
func (h *SeriesHandler) Occurrences(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()

	f := calendar.OccurrenceFilter{HouseholdID: auth.HouseholdID(r.Context()), From: from, To: to}
	if v := q.Get("series_id"); v != "" {
		if f.SeriesID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid series_id")
			return
		}
	}
	if f.UserIDs, err = parseIDList(q.Get("users")); err != nil {
		writeMessage(w, http.StatusBadRequest, "users: "+err.Error())
		return
	}
	if v := q.Get("kinds"); v != "" {
		for _, k := range strings.Split(v, ",") {
			kind := model.ParticipationKind(strings.TrimSpace(k))
			if !kind.Valid() {
				writeMessage(w, http.StatusBadRequest, "kinds must be involved or aware")
				return
			}
			f.Kinds = append(f.Kinds, kind)
		}
	}

	occs, err := h.svc.GetOccurrences(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occs)
}
