package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/FranksOps/sift/internal/cache"
	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/storage"
	"github.com/FranksOps/sift/internal/task"
	"github.com/FranksOps/sift/pkg/ratelimit"
)

// ErrAdmission is returned by StartJob when the intake bucket refuses a job.
var ErrAdmission = errors.New("runner: too many search requests")

// MaxQueryRunes caps the sanitized query length.
const MaxQueryRunes = 100

// View statuses beyond the task statuses.
const (
	StatusStarted      = "started"
	StatusNotFound     = "not_found"
	StatusNotCancelled = "not_cancelled"
)

// Config controls job intake and housekeeping.
type Config struct {
	MaxLimit     int
	DefaultLimit int
	// GracePeriod is how long StartJob waits for a job to finish before
	// returning only its id.
	GracePeriod time.Duration
	MaxAge      time.Duration
	// ReapSchedule and CacheSweepSchedule are cron specs.
	ReapSchedule       string
	CacheSweepSchedule string
	UseCache           bool
	// Intake limits job creation; nil admits everything.
	Intake *ratelimit.Bucket
}

func (c Config) withDefaults() Config {
	if c.MaxLimit <= 0 {
		c.MaxLimit = 30
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * time.Minute
	}
	if c.ReapSchedule == "" {
		c.ReapSchedule = "@every 5m"
	}
	if c.CacheSweepSchedule == "" {
		c.CacheSweepSchedule = "@every 1m"
	}
	return c
}

// StartRequest is a new search job as submitted by a caller.
type StartRequest struct {
	Query   string `json:"query" validate:"required"`
	Sources string `json:"sources"`
	Limit   int    `json:"limit" validate:"gte=0"`
	// IncludeContent defaults to true when unset.
	IncludeContent *bool `json:"include_content,omitempty"`
}

// StartResponse reports a newly created job. Status is "completed" or
// "failed" when the job finished within the grace period, otherwise
// "started".
type StartResponse struct {
	ID      string             `json:"task_id"`
	Status  string             `json:"status"`
	Results []model.ResultItem `json:"results,omitempty"`
	Count   int                `json:"count,omitempty"`
	Error   string             `json:"error,omitempty"`
	Summary string             `json:"summary,omitempty"`
	Message string             `json:"message,omitempty"`
	Request model.Request      `json:"request"`
}

// JobView is the polling representation of a job.
type JobView struct {
	ID       string                `json:"task_id"`
	Status   string                `json:"status"`
	Query    string                `json:"query,omitempty"`
	Sources  []string              `json:"sources,omitempty"`
	Progress *task.Progress        `json:"progress,omitempty"`
	Results  []model.ResultItem    `json:"results,omitempty"`
	Count    int                   `json:"count"`
	Error    string                `json:"error,omitempty"`
	Summary  string                `json:"summary,omitempty"`
	Failures []model.SourceFailure `json:"failures,omitempty"`
	Message  string                `json:"message,omitempty"`
	Elapsed  float64               `json:"elapsed_seconds"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	ID      string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Service is the job-facing API: start, poll, cancel and list.
type Service struct {
	cfg       Config
	store     *task.Store
	coord     *search.Coordinator
	cache     *cache.Cache
	runner    *JobRunner
	super     *Supervisor
	validator *validator.Validate
	logger    *slog.Logger
}

// NewService wires a service. resultCache and archive may be nil.
func NewService(cfg Config, store *task.Store, coord *search.Coordinator, resultCache *cache.Cache, archive storage.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		store:     store,
		coord:     coord,
		cache:     resultCache,
		runner:    NewJobRunner(store, coord, archive, cfg.UseCache, logger),
		super:     NewSupervisor(logger),
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Start schedules the reaper and cache sweeper.
func (s *Service) Start() error {
	err := s.super.Every(s.cfg.ReapSchedule, "reaper", func(context.Context) {
		s.store.ReapOlderThan(s.cfg.MaxAge)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		err = s.super.Every(s.cfg.CacheSweepSchedule, "cache-sweep", func(ctx context.Context) {
			if n := s.cache.Sweep(ctx); n > 0 {
				s.logger.Debug("swept expired cache entries", "count", n)
			}
		})
		if err != nil {
			return err
		}
	}
	s.super.Start()
	return nil
}

// Shutdown cancels running jobs and waits for them until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.super.Shutdown(ctx)
}

// SanitizeQuery strips markup characters, trims whitespace and caps the
// query at MaxQueryRunes.
func SanitizeQuery(q string) string {
	q = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'':
			return -1
		}
		return r
	}, q)
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) > MaxQueryRunes {
		q = strings.TrimSpace(string([]rune(q)[:MaxQueryRunes]))
	}
	return q
}

// Normalize validates req and resolves it into a job request. It never
// creates a job.
func (s *Service) Normalize(req StartRequest) (model.Request, error) {
	req.Query = SanitizeQuery(req.Query)
	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return model.Request{}, &search.ValidationError{
				Field:  strings.ToLower(f.Field()),
				Reason: fmt.Sprintf("failed %q check", f.Tag()),
				Err:    err,
			}
		}
		return model.Request{}, &search.ValidationError{Field: "request", Reason: err.Error(), Err: err}
	}

	sources, err := s.coord.Registry().ParseSources(req.Sources)
	if err != nil {
		return model.Request{}, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	include := true
	if req.IncludeContent != nil {
		include = *req.IncludeContent
	}
	return model.Request{
		Query:          req.Query,
		Sources:        sources,
		Limit:          limit,
		IncludeContent: include,
	}, nil
}

// StartJob validates req, creates a job and runs it in the background. It
// waits up to the grace period so that quick jobs are returned inline.
func (s *Service) StartJob(ctx context.Context, req StartRequest) (*StartResponse, error) {
	normalized, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}
	if s.cfg.Intake != nil && !s.cfg.Intake.TryTake() {
		return nil, &ratelimit.LimitError{Scope: "intake", Err: ErrAdmission}
	}

	id := s.store.Create(normalized)
	done := s.super.Go("job "+id, func(jobCtx context.Context) {
		s.runner.Run(jobCtx, id)
	}, func(v any) {
		s.runner.Fail(id, v)
	})
	s.logger.Info("job created", "job_id", id, "query", normalized.Query, "sources", normalized.Sources)

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	resp := &StartResponse{ID: id, Status: StatusStarted, Request: normalized}
	job, err := s.store.Get(id)
	if err != nil {
		return resp, nil
	}
	switch job.Status {
	case task.StatusCompleted:
		resp.Status = string(task.StatusCompleted)
		resp.Results = job.Results
		resp.Count = len(job.Results)
		resp.Summary = job.Summary
	case task.StatusFailed:
		resp.Status = string(task.StatusFailed)
		resp.Error = job.Error
	default:
		resp.Message = fmt.Sprintf("search started; poll with task_id %s (jobs expire after %s)", id, s.cfg.MaxAge)
	}
	return resp, nil
}

// GetJobStatus returns the current view of a job. Unknown and reaped jobs
// are reported as not_found.
func (s *Service) GetJobStatus(id string) JobView {
	job, err := s.store.Get(id)
	if err != nil {
		return JobView{
			ID:      id,
			Status:  StatusNotFound,
			Message: fmt.Sprintf("task not found; tasks expire after %s", s.cfg.MaxAge),
		}
	}

	v := JobView{
		ID:      job.ID,
		Query:   job.Request.Query,
		Sources: job.Request.Sources,
		Elapsed: job.Elapsed(time.Now()).Seconds(),
	}
	switch job.Status {
	case task.StatusPending, task.StatusRunning:
		v.Status = string(task.StatusRunning)
		v.Progress = job.Progress
		if v.Progress == nil {
			v.Progress = &task.Progress{Stage: "queued", Message: "waiting to start", UpdatedAt: job.CreatedAt}
		}
	case task.StatusCompleted:
		v.Status = string(task.StatusCompleted)
		v.Results = job.Results
		v.Count = len(job.Results)
		v.Summary = job.Summary
		v.Failures = job.Failures
	case task.StatusFailed:
		v.Status = string(task.StatusFailed)
		v.Error = job.Error
		v.Failures = job.Failures
	case task.StatusCancelled:
		v.Status = string(task.StatusCancelled)
		v.Message = "task was cancelled"
	}
	return v
}

// CancelJob requests cooperative cancellation. A source already in flight
// runs to completion; no further sources are started.
func (s *Service) CancelJob(id string) CancelResponse {
	if s.store.Cancel(id) {
		s.logger.Info("job cancelled by request", "job_id", id)
		return CancelResponse{ID: id, Status: string(task.StatusCancelled), Message: "cancellation requested"}
	}
	if _, err := s.store.Get(id); err != nil {
		return CancelResponse{ID: id, Status: StatusNotCancelled, Message: "task not found"}
	}
	return CancelResponse{ID: id, Status: StatusNotCancelled, Message: "task already finished"}
}

// ListActive returns the pending and running jobs.
func (s *Service) ListActive() []task.Summary {
	return s.store.ListActive()
}

// Platforms returns the registered source names.
func (s *Service) Platforms() []string {
	return s.coord.Registry().Names()
}

// MaxAge is the idle window after which jobs are reaped.
func (s *Service) MaxAge() time.Duration {
	return s.cfg.MaxAge
}

// MaxLimit is the largest result limit a job may request.
func (s *Service) MaxLimit() int {
	return s.cfg.MaxLimit
}
