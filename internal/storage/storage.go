// Package storage archives finished search jobs for later inspection.
package storage

import (
	"context"
	"sort"
	"time"

	"github.com/FranksOps/sift/internal/model"
)

// Record is the archived form of one finished search job.
type Record struct {
	ID             string
	Query          string
	Sources        []string
	Limit          int
	IncludeContent bool
	Status         string // completed, failed or cancelled
	Results        []model.ResultItem
	Failures       []model.SourceFailure
	Error          string
	Summary        string
	CreatedAt      time.Time
	FinishedAt     time.Time
}

// Filter selects archived records. Zero fields match everything.
type Filter struct {
	Query  string
	Status string
	Since  *time.Time
	Limit  int
	Offset int
}

// Backend defines the interface for storing and querying job records.
// Saving a record with an existing ID replaces it.
type Backend interface {
	Save(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}

// Match reports whether rec satisfies the non-paging fields of f. File
// backends use it to filter in memory.
func (f Filter) Match(rec *Record) bool {
	if f.Query != "" && rec.Query != f.Query {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered slice.
func (f Filter) Page(recs []*Record) []*Record {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return nil
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	return recs
}

// Newest collapses an append-only log of records: the last record saved
// for each ID wins, and the result is ordered by CreatedAt, newest first.
func Newest(log []*Record) []*Record {
	latest := make(map[string]int, len(log))
	var out []*Record
	for _, rec := range log {
		if i, ok := latest[rec.ID]; ok {
			out[i] = rec
			continue
		}
		latest[rec.ID] = len(out)
		out = append(out, rec)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}
