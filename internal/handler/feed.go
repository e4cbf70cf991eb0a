package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/calendar"
	"github.com/dukerupert/homebase/internal/icsfeed"
)

type FeedHandler struct {
	svc     *calendar.Service
	baseURL string
	logger  *slog.Logger
}

// NewFeedHandler builds the feed handlers. baseURL, when set, is used to
// return subscribable feed URLs on token creation.
func NewFeedHandler(svc *calendar.Service, baseURL string, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{svc: svc, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Feed serves GET /{token}.ics. Malformed, unknown and revoked tokens all get
// the same bodiless 404.
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutSuffix(r.PathValue("file"), ".ics")
	if !ok || token == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	feed, err := h.svc.GenerateIcsFeed(r.Context(), token)
	if errors.Is(err, calendar.ErrTokenInvalid) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("generate feed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	lastModified := feed.LastModified.UTC().Truncate(time.Second)
	w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "private, max-age=300")
	if ims, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !lastModified.After(ims) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", icsfeed.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write(feed.Body)
}

type feedTokenResponse struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	Token     string    `json:"token"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *FeedHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label" validate:"max=100"`
	}
	if !decode(w, r, &req) {
		return
	}
	ac, _ := auth.FromContext(r.Context())

	ft, err := h.svc.CreateFeedToken(r.Context(), ac.HouseholdID, ac.UserID, req.Label)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	resp := feedTokenResponse{ID: ft.ID, Label: ft.Label, Token: ft.Token, CreatedAt: ft.CreatedAt}
	if h.baseURL != "" {
		resp.URL = h.baseURL + "/" + ft.Token + ".ics"
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *FeedHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	tokens, err := h.svc.ListFeedTokens(r.Context(), ac.HouseholdID, ac.UserID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *FeedHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if err := h.svc.RevokeFeedToken(r.Context(), ac.HouseholdID, ac.UserID, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FeedHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if err := h.svc.DeleteFeedToken(r.Context(), ac.HouseholdID, ac.UserID, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
