// Package api exposes the job service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/FranksOps/sift/internal/metrics"
	"github.com/FranksOps/sift/internal/runner"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/storage"
	"github.com/FranksOps/sift/pkg/ratelimit"
)

// Server wires HTTP handlers for the search job API.
type Server struct {
	svc     *runner.Service
	archive storage.Backend
	logger  *slog.Logger
}

// New constructs the API server. archive may be nil, which disables the
// history endpoint.
func New(svc *runner.Service, archive storage.Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, archive: archive, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/searches", s.handleStart)
		r.Get("/searches", s.handleListActive)
		r.Get("/searches/{id}", s.handleStatus)
		r.Post("/searches/{id}/cancel", s.handleCancel)
		r.Get("/platforms", s.handlePlatforms)
		r.Get("/history", s.handleHistory)
	})
	return r
}

// ListenAndServe serves the router on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req runner.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	resp, err := s.svc.StartJob(r.Context(), req)
	if err != nil {
		var verr *search.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
		case errors.Is(err, runner.ErrAdmission), errors.Is(err, ratelimit.ErrExhausted):
			metrics.RateLimitRejects.WithLabelValues("intake").Inc()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
		default:
			s.logger.Error("start job failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	code := http.StatusOK
	if resp.Status == runner.StatusStarted {
		code = http.StatusAccepted
		w.Header().Set("Location", "/v1/searches/"+resp.ID)
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.svc.GetJobStatus(chi.URLParam(r, "id"))
	code := http.StatusOK
	if view.Status == runner.StatusNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	resp := s.svc.CancelJob(chi.URLParam(r, "id"))
	code := http.StatusOK
	if resp.Status == runner.StatusNotCancelled {
		code = http.StatusConflict
		if resp.Message == "task not found" {
			code = http.StatusNotFound
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleListActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.svc.ListActive()})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": s.svc.Platforms()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no archive configured"})
		return
	}

	q := r.URL.Query()
	filter := storage.Filter{
		Query:  q.Get("query"),
		Status: q.Get("status"),
		Limit:  20,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Field: "limit"})
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offset", Field: "offset"})
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since, want RFC3339", Field: "since"})
			return
		}
		filter.Since = &t
	}

	recs, err := s.archive.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("history query failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
