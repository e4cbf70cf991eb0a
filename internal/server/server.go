package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/homebase/internal/calendar"
	"github.com/dukerupert/homebase/internal/config"
	"github.com/dukerupert/homebase/internal/handler"
	"github.com/dukerupert/homebase/internal/icssync"
	"github.com/dukerupert/homebase/internal/metrics"
	"github.com/dukerupert/homebase/internal/middleware"
	ws "github.com/dukerupert/homebase/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	calendar      *calendar.Service
	sync          *icssync.Service
	seriesH       *handler.SeriesHandler
	availabilityH *handler.AvailabilityHandler
	feedH         *handler.FeedHandler
	subscriptionH *handler.SubscriptionHandler
	feedLimiter   *middleware.RateLimiter
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	calendarSvc := calendar.NewService(db, logger.With("component", "calendar"), calendar.Options{
		MaxOccurrences: cfg.MaxOccurrences,
		FeedLookback:   cfg.FeedLookback,
		FeedLookahead:  cfg.FeedLookahead,
		Notifier:       hub,
		Metrics:        m,
	})
	syncSvc := icssync.NewService(db, logger.With("component", "sync"), icssync.Options{
		Timeout:  cfg.SyncTimeout,
		Horizon:  cfg.SyncHorizon,
		Notifier: hub,
		Metrics:  m,
	})

	return &Server{
		db:            db,
		hub:           hub,
		calendar:      calendarSvc,
		sync:          syncSvc,
		seriesH:       handler.NewSeriesHandler(calendarSvc, logger.With("component", "series")),
		availabilityH: handler.NewAvailabilityHandler(calendarSvc, logger.With("component", "availability")),
		feedH:         handler.NewFeedHandler(calendarSvc, cfg.BaseURL, logger.With("component", "feed")),
		subscriptionH: handler.NewSubscriptionHandler(syncSvc, logger.With("component", "subscription")),
		feedLimiter:   middleware.NewRateLimiter(cfg.FeedRateLimit, time.Minute),
		metrics:       m,
		logger:        logger,
	}
}

// Sync returns the subscription service for the background scheduler.
func (s *Server) Sync() *icssync.Service {
	return s.sync
}

// RateLimiter returns the feed rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.feedLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	feedLimit := middleware.RateLimit(s.feedLimiter, middleware.RealIP)
	mux.Handle("GET /{file}", feedLimit(http.HandlerFunc(s.feedH.Feed)))

	s.registerAPIRoutes(mux)

	h := middleware.Metrics(s.metrics)(mux)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

// api registers a route that requires the caller's identity. Routes are
// wrapped one by one so the mux pattern stays visible to the outer
// middleware.
func api(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, middleware.RequireIdentity(h))
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Series
	api(mux, "POST /api/series", s.seriesH.Create)
	api(mux, "GET /api/series/{id}", s.seriesH.Get)
	api(mux, "PUT /api/series/{id}", s.seriesH.Update)
	api(mux, "DELETE /api/series/{id}", s.seriesH.Delete)
	api(mux, "POST /api/series/{id}/edits", s.seriesH.Edit)
	api(mux, "POST /api/series/{id}/members", s.seriesH.AddMember)
	api(mux, "PUT /api/series/{id}/members/{user_id}", s.seriesH.UpdateMember)
	api(mux, "DELETE /api/series/{id}/members/{user_id}", s.seriesH.RemoveMember)
	api(mux, "GET /api/occurrences", s.seriesH.Occurrences)

	// Availability
	api(mux, "GET /api/freebusy", s.availabilityH.FreeBusy)
	api(mux, "GET /api/slots", s.availabilityH.Slots)

	// Feed tokens
	api(mux, "POST /api/feed-tokens", s.feedH.CreateToken)
	api(mux, "GET /api/feed-tokens", s.feedH.ListTokens)
	api(mux, "POST /api/feed-tokens/{id}/revoke", s.feedH.RevokeToken)
	api(mux, "DELETE /api/feed-tokens/{id}", s.feedH.DeleteToken)

	// Subscriptions
	api(mux, "POST /api/subscriptions", s.subscriptionH.Create)
	api(mux, "GET /api/subscriptions", s.subscriptionH.List)
	api(mux, "DELETE /api/subscriptions/{id}", s.subscriptionH.Delete)
	api(mux, "POST /api/subscriptions/{id}/sync", s.subscriptionH.Sync)

	// WebSocket
	api(mux, "GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "websocket_clients": s.hub.ClientCount()})
}
