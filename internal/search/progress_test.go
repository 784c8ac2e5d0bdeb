package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type progressEvent struct {
	stage, message string
	current, total int
}

type recorder struct {
	events []progressEvent
}

func (r *recorder) fn(stage, message string, current, total int) {
	r.events = append(r.events, progressEvent{stage, message, current, total})
}

func (r *recorder) percentages() []int {
	out := make([]int, len(r.events))
	for i, e := range r.events {
		if e.total > 0 {
			out[i] = e.current * 100 / e.total
		}
	}
	return out
}

func TestProgressAggregator_Overall(t *testing.T) {
	rec := &recorder{}
	agg := NewProgressAggregator(1, 3, "google", rec.fn)

	agg.Report("fetching", "page 1", 1, 4)

	e := rec.events[0]
	assert.Equal(t, 125, e.current)
	assert.Equal(t, 300, e.total)
	assert.Equal(t, "google_fetching", e.stage)
	assert.Equal(t, "Source 2/3 (google): page 1", e.message)
}

func TestProgressAggregator_ClampsLocal(t *testing.T) {
	agg := NewProgressAggregator(0, 2, "a", nil)

	cur, tot := agg.Overall(7, 5)
	assert.Equal(t, 100, cur)
	assert.Equal(t, 200, tot)

	cur, _ = agg.Overall(-3, 5)
	assert.Equal(t, 0, cur)

	cur, _ = agg.Overall(3, 0)
	assert.Equal(t, 0, cur, "zero local total counts as no progress")
}

func TestProgressAggregator_SingleSourceUnwrapped(t *testing.T) {
	rec := &recorder{}
	agg := NewProgressAggregator(0, 1, "google", rec.fn)

	agg.Report("parsing", "half way", 50, 100)

	e := rec.events[0]
	assert.Equal(t, "parsing", e.stage)
	assert.Equal(t, "half way", e.message)
	assert.Equal(t, 50, e.current)
	assert.Equal(t, 100, e.total)
}
