// Package runner executes search jobs in the background and exposes the
// job lifecycle operations used by the CLI, HTTP API and MCP server.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/sift/internal/metrics"
	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/storage"
	"github.com/FranksOps/sift/internal/task"
)

// JobRunner drives one job from PENDING to a terminal status.
type JobRunner struct {
	store    *task.Store
	coord    *search.Coordinator
	archive  storage.Backend
	useCache bool
	logger   *slog.Logger
}

// NewJobRunner creates a runner. archive may be nil.
func NewJobRunner(store *task.Store, coord *search.Coordinator, archive storage.Backend, useCache bool, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRunner{
		store:    store,
		coord:    coord,
		archive:  archive,
		useCache: useCache,
		logger:   logger,
	}
}

// Run executes the job. It returns without doing anything if the job is
// unknown or no longer PENDING. A cancellation recorded in the store is
// honored before each source and is never overwritten.
func (r *JobRunner) Run(ctx context.Context, id string) {
	job, err := r.store.Get(id)
	if err != nil {
		r.logger.Warn("job vanished before start", "job_id", id)
		return
	}
	if !r.store.SetStatus(id, task.StatusRunning, nil) {
		r.logger.Info("job not started", "job_id", id, "status", job.Status)
		r.finish(id)
		return
	}

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	start := time.Now()
	logger := r.logger.With("job_id", id)
	logger.Info("job started", "query", job.Request.Query, "sources", job.Request.Sources, "limit", job.Request.Limit)

	req := search.Request{
		Query:          job.Request.Query,
		Sources:        job.Request.Sources,
		Limit:          job.Request.Limit,
		IncludeContent: job.Request.IncludeContent,
		UseCache:       r.useCache,
	}
	progress := func(stage, message string, current, total int) {
		r.store.SetProgress(id, current, total, stage, message)
	}
	cancelled := func() bool {
		st, ok := r.store.Status(id)
		return !ok || st == task.StatusCancelled
	}

	out, err := r.coord.Run(ctx, req, progress, cancelled)
	switch {
	case errors.Is(err, search.ErrCancelled):
		logger.Info("job cancelled", "elapsed", time.Since(start))
	case err != nil:
		o := &task.Outcome{Error: err.Error()}
		var agg *search.AggregateError
		if errors.As(err, &agg) {
			for _, f := range agg.Failures {
				o.Failures = append(o.Failures, sourceFailure(f))
			}
		}
		var se *search.SourceError
		if errors.As(err, &se) && o.Failures == nil {
			o.Failures = append(o.Failures, sourceFailure(se))
		}
		r.store.SetStatus(id, task.StatusFailed, o)
		logger.Warn("job failed", "err", err, "elapsed", time.Since(start))
	default:
		r.store.SetStatus(id, task.StatusCompleted, &task.Outcome{
			Results:  out.Items,
			Summary:  out.Summary,
			Failures: out.Failures,
		})
		logger.Info("job completed", "results", len(out.Items), "failed_sources", len(out.Failures), "elapsed", time.Since(start))
	}
	r.finish(id)
}

// Fail marks a job FAILED after an unexpected panic.
func (r *JobRunner) Fail(id string, v any) {
	r.store.SetStatus(id, task.StatusFailed, &task.Outcome{Error: fmt.Sprintf("internal error: %v", v)})
	r.finish(id)
}

// finish counts and archives the job once it is terminal.
func (r *JobRunner) finish(id string) {
	job, err := r.store.Get(id)
	if err != nil || !job.Status.Terminal() {
		return
	}
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	if r.archive == nil {
		return
	}
	// The job context may already be cancelled; archiving uses its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.archive.Save(ctx, RecordFromJob(job)); err != nil {
		r.logger.Error("archive job failed", "job_id", id, "err", err)
	}
}

func sourceFailure(e *search.SourceError) model.SourceFailure {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return model.SourceFailure{Source: e.Source, Error: msg}
}

// RecordFromJob converts a terminal job into an archive record.
func RecordFromJob(j task.Job) *storage.Record {
	rec := &storage.Record{
		ID:             j.ID,
		Query:          j.Request.Query,
		Sources:        j.Request.Sources,
		Limit:          j.Request.Limit,
		IncludeContent: j.Request.IncludeContent,
		Status:         string(j.Status),
		Results:        j.Results,
		Failures:       j.Failures,
		Error:          j.Error,
		Summary:        j.Summary,
		CreatedAt:      j.CreatedAt.UTC(),
	}
	if j.FinishedAt != nil {
		rec.FinishedAt = j.FinishedAt.UTC()
	}
	return rec
}
