package task

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/FranksOps/sift/internal/model"
	"github.com/google/uuid"
)

// Store is an in-memory job registry. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		jobs:   make(map[string]*Job),
		logger: logger,
		now:    time.Now,
	}
}

// Create registers a new PENDING job and returns its id.
func (s *Store) Create(req model.Request) string {
	now := s.now()
	req.Sources = append([]string(nil), req.Sources...)
	j := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.logger.Debug("job created", "job_id", j.ID, "query", req.Query, "sources", req.Sources)
	return j.ID
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.clone(), nil
}

// Status returns only the current status of the job.
func (s *Store) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return j.Status, true
}

// SetStatus moves the job to status and records out when the new status is
// terminal. Unknown ids and backward transitions are logged and ignored.
// It reports whether the transition was applied.
func (s *Store) SetStatus(id string, status Status, out *Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		s.logger.Warn("set status on unknown job", "job_id", id, "status", status)
		return false
	}
	if !canTransition(j.Status, status) {
		s.logger.Debug("ignoring status transition", "job_id", id, "from", j.Status, "to", status)
		return false
	}

	now := s.now()
	j.Status = status
	j.UpdatedAt = now

	switch status {
	case StatusRunning:
		j.StartedAt = &now
	case StatusCompleted:
		if out != nil {
			j.Results = append([]model.ResultItem(nil), out.Results...)
			if limit := j.Request.Limit; limit > 0 && len(j.Results) > limit {
				j.Results = j.Results[:limit]
			}
		}
		if j.Results == nil {
			j.Results = []model.ResultItem{}
		}
	case StatusFailed:
		if out != nil {
			j.Error = out.Error
		}
		if j.Error == "" {
			j.Error = "unknown error"
		}
	}
	if status.Terminal() {
		j.FinishedAt = &now
		if out != nil {
			j.Summary = out.Summary
			j.Failures = append([]model.SourceFailure(nil), out.Failures...)
		}
	}
	return true
}

// SetProgress records a progress report for a RUNNING job. The reported
// percentage never moves backwards. Reports for unknown or non-running
// jobs are ignored.
func (s *Store) SetProgress(id string, current, total int, stage, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		s.logger.Warn("set progress on unknown job", "job_id", id, "stage", stage)
		return false
	}
	if j.Status != StatusRunning {
		return false
	}

	pct := percentage(current, total)
	if prev := j.Progress; prev != nil && pct < prev.Percentage {
		pct = prev.Percentage
		if total == prev.Total && current < prev.Current {
			current = prev.Current
		}
	}

	now := s.now()
	j.Progress = &Progress{
		Current:    current,
		Total:      total,
		Stage:      stage,
		Message:    message,
		Percentage: pct,
		UpdatedAt:  now,
	}
	j.UpdatedAt = now
	return true
}

// Cancel marks a PENDING or RUNNING job as CANCELLED. It returns false when
// the job is unknown or already terminal.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		return false
	}
	now := s.now()
	j.Status = StatusCancelled
	j.UpdatedAt = now
	j.FinishedAt = &now
	return true
}

// ReapOlderThan removes every job not updated for more than maxAge,
// whatever its status, and returns how many were removed.
func (s *Store) ReapOlderThan(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	n := 0
	for id, j := range s.jobs {
		if j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	if n > 0 {
		s.logger.Info("reaped expired jobs", "count", n, "max_age", maxAge)
	}
	return n
}

// ListActive returns the PENDING and RUNNING jobs, oldest first.
func (s *Store) ListActive() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Summary
	for _, j := range s.jobs {
		if j.Status.Terminal() {
			continue
		}
		sum := Summary{
			ID:        j.ID,
			Status:    j.Status,
			Query:     j.Request.Query,
			Sources:   append([]string(nil), j.Request.Sources...),
			CreatedAt: j.CreatedAt,
			Elapsed:   now.Sub(j.CreatedAt),
		}
		if j.Progress != nil {
			sum.Percentage = j.Progress.Percentage
			sum.Stage = j.Progress.Stage
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func percentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := current * 100 / total
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
