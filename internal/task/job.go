// Package task keeps the in-memory registry of search jobs and enforces
// their lifecycle.
package task

import (
	"errors"
	"time"

	"github.com/FranksOps/sift/internal/model"
)

// ErrNotFound is returned when a job id is unknown or has been reaped.
var ErrNotFound = errors.New("task: job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// canTransition lists the forward-only lifecycle edges.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// Progress is the latest progress report of a running job.
type Progress struct {
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	Percentage int       `json:"percentage"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Outcome carries the terminal payload passed to SetStatus.
type Outcome struct {
	Results  []model.ResultItem
	Error    string
	Summary  string
	Failures []model.SourceFailure
}

// Job is a snapshot of one search job.
type Job struct {
	ID         string                `json:"id"`
	Status     Status                `json:"status"`
	Request    model.Request         `json:"request"`
	Progress   *Progress             `json:"progress,omitempty"`
	Results    []model.ResultItem    `json:"results,omitempty"`
	Error      string                `json:"error,omitempty"`
	Summary    string                `json:"summary,omitempty"`
	Failures   []model.SourceFailure `json:"failures,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// Elapsed returns the run time so far, or the total run time of a finished job.
func (j Job) Elapsed(now time.Time) time.Duration {
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(j.CreatedAt)
	}
	return now.Sub(j.CreatedAt)
}

// Summary is the short listing form of a job.
type Summary struct {
	ID         string        `json:"id"`
	Status     Status        `json:"status"`
	Query      string        `json:"query"`
	Sources    []string      `json:"sources"`
	Percentage int           `json:"percentage"`
	Stage      string        `json:"stage,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

func (j *Job) clone() Job {
	c := *j
	c.Request.Sources = append([]string(nil), j.Request.Sources...)
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	if j.Results != nil {
		c.Results = append([]model.ResultItem(nil), j.Results...)
	}
	if j.Failures != nil {
		c.Failures = append([]model.SourceFailure(nil), j.Failures...)
	}
	return c
}
