package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_jobs_total",
			Help: "Total number of search jobs by terminal status",
		},
		[]string{"status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sift_jobs_active",
			Help: "Number of search jobs currently running",
		},
	)

	SourceSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_source_searches_total",
			Help: "Total number of per-source searches by outcome",
		},
		[]string{"source", "outcome"},
	)

	SourceSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sift_source_search_duration_seconds",
			Help:    "Duration of per-source searches in seconds, excluding cache hits",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_cache_lookups_total",
			Help: "Total number of result cache lookups by result",
		},
		[]string{"result"},
	)

	RateLimitRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_rate_limit_rejects_total",
			Help: "Total number of requests refused by a rate limit bucket",
		},
		[]string{"bucket"},
	)

	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_fetch_requests_total",
			Help: "Total number of outbound page fetches",
		},
		[]string{"domain", "status", "detected"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sift_fetch_duration_seconds",
			Help:    "Duration of outbound page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)
)

// RecordFetch updates the fetch metrics for one request. status is the HTTP
// status code as text, or "error" when no response was received.
func RecordFetch(domain, status, detection string, d time.Duration) {
	detected := "none"
	if detection != "" {
		detected = detection
	}
	FetchRequestsTotal.WithLabelValues(domain, status, detected).Inc()
	FetchDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// RecordSourceSearch updates the per-source counters.
func RecordSourceSearch(source, outcome string, d time.Duration) {
	SourceSearches.WithLabelValues(source, outcome).Inc()
	if d > 0 {
		SourceSearchDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on addr and exposes /metrics.
func Start(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
