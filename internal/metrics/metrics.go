package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	occurrences     prometheus.Counter
	expansionLimit  prometheus.Counter
	feedRequests    *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	syncEvents      prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	occurrences := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calendar_occurrences_expanded_total",
		Help: "Occurrences produced by recurrence expansion",
	})

	expansionLimit := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calendar_expansion_limit_total",
		Help: "Expansions rejected for exceeding the occurrence ceiling",
	})

	feedRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_feed_requests_total",
		Help: "ICS feed requests by result",
	}, []string{"result"})

	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_subscription_syncs_total",
		Help: "External subscription sync attempts by result",
	}, []string{"result"})

	syncEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calendar_subscription_events_imported_total",
		Help: "External events written by subscription syncs",
	})

	registry.MustRegister(
		requestDuration, requestTotal, occurrences, expansionLimit, feedRequests, syncRuns, syncEvents,
		collectors.NewGoCollector(),
	)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		occurrences:     occurrences,
		expansionLimit:  expansionLimit,
		feedRequests:    feedRequests,
		syncRuns:        syncRuns,
		syncEvents:      syncEvents,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

func (m *Metrics) AddOccurrences(n int) {
	if m == nil {
		return
	}
	m.occurrences.Add(float64(n))
}

func (m *Metrics) ExpansionLimitHit() {
	if m == nil {
		return
	}
	m.expansionLimit.Inc()
}

// FeedRequest records a feed fetch; result is "ok", "not_modified" or "not_found".
func (m *Metrics) FeedRequest(result string) {
	if m == nil {
		return
	}
	m.feedRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SyncRun(result string, events int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
	m.syncEvents.Add(float64(events))
}
