package task

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/sift/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *time.Time) {
	now := time.Unix(10_000, 0)
	s := NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }
	return s, &now
}

func testRequest() model.Request {
	return model.Request{Query: "golang", Sources: []string{"google"}, Limit: 2}
}

func TestStore_CreateAndGet(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create(testRequest())

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, "golang", j.Request.Query)
	assert.Nil(t, j.Progress)

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_IDsAreUnique(t *testing.T) {
	s, _ := newTestStore()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := s.Create(testRequest())
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestStore_ForwardOnlyTransitions(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create(testRequest())

	assert.False(t, s.SetStatus(id, StatusCompleted, nil), "pending cannot complete directly")
	assert.True(t, s.SetStatus(id, StatusRunning, nil))
	assert.False(t, s.SetStatus(id, StatusPending, nil))

	items := []model.ResultItem{{URL: "a"}, {URL: "b"}, {URL: "c"}}
	assert.True(t, s.SetStatus(id, StatusCompleted, &Outcome{Results: items, Summary: "done"}))

	j, _ := s.Get(id)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Len(t, j.Results, 2, "results are truncated to the request limit")
	assert.Equal(t, "done", j.Summary)
	require.NotNil(t, j.FinishedAt)

	// Terminal jobs are immutable.
	assert.False(t, s.SetStatus(id, StatusFailed, &Outcome{Error: "late"}))
	assert.False(t, s.SetStatus(id, StatusRunning, nil))
	assert.False(t, s.Cancel(id))
	j, _ = s.Get(id)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Empty(t, j.Error)
}

func TestStore_FailedRecordsError(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create(testRequest())
	s.SetStatus(id, StatusRunning, nil)
	s.SetStatus(id, StatusFailed, &Outcome{Error: "all sources failed: google: boom"})

	j, _ := s.Get(id)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "all sources failed: google: boom", j.Error)
	assert.Nil(t, j.Results)
}

func TestStore_UnknownIDIsNoop(t *testing.T) {
	s, _ := newTestStore()
	assert.False(t, s.SetStatus("nope", StatusRunning, nil))
	assert.False(t, s.SetProgress("nope", 1, 2, "stage", "msg"))
	assert.False(t, s.Cancel("nope"))
}

func TestStore_ProgressNeverDecreases(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create(testRequest())

	assert.False(t, s.SetProgress(id, 10, 100, "search", "early"), "pending jobs do not record progress")
	s.SetStatus(id, StatusRunning, nil)

	s.SetProgress(id, 40, 100, "search", "a")
	j, _ := s.Get(id)
	assert.Equal(t, 40, j.Progress.Percentage)

	s.SetProgress(id, 20, 100, "search", "b")
	j, _ = s.Get(id)
	assert.Equal(t, 40, j.Progress.Percentage)
	assert.Equal(t, 40, j.Progress.Current)
	assert.Equal(t, "b", j.Progress.Message)

	s.SetProgress(id, 250, 200, "search", "over")
	j, _ = s.Get(id)
	assert.Equal(t, 100, j.Progress.Percentage)

	s.SetProgress(id, 1, 0, "search", "no total")
	j, _ = s.Get(id)
	assert.Equal(t, 100, j.Progress.Percentage)
}

func TestStore_Cancel(t *testing.T) {
	s, _ := newTestStore()

	pending := s.Create(testRequest())
	assert.True(t, s.Cancel(pending))
	assert.False(t, s.SetStatus(pending, StatusRunning, nil), "cancelled jobs never start")

	running := s.Create(testRequest())
	s.SetStatus(running, StatusRunning, nil)
	assert.True(t, s.Cancel(running))
	assert.False(t, s.SetStatus(running, StatusCompleted, &Outcome{}), "runner cannot overwrite a cancellation")

	st, ok := s.Status(running)
	assert.True(t, ok)
	assert.Equal(t, StatusCancelled, st)
}

func TestStore_ReapOlderThan(t *testing.T) {
	s, now := newTestStore()
	old := s.Create(testRequest())
	s.SetStatus(old, StatusRunning, nil)

	*now = now.Add(20 * time.Minute)
	fresh := s.Create(testRequest())

	*now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, s.ReapOlderThan(30*time.Minute))

	_, err := s.Get(old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(fresh)
	assert.NoError(t, err)

	// Late writes from a runner whose job was reaped are harmless.
	assert.False(t, s.SetStatus(old, StatusCompleted, &Outcome{}))
}

func TestStore_ListActive(t *testing.T) {
	s, now := newTestStore()
	a := s.Create(testRequest())
	*now = now.Add(time.Second)
	b := s.Create(testRequest())
	*now = now.Add(time.Second)
	c := s.Create(testRequest())

	s.SetStatus(b, StatusRunning, nil)
	s.SetProgress(b, 50, 100, "search", "half")
	s.SetStatus(c, StatusRunning, nil)
	s.SetStatus(c, StatusCompleted, &Outcome{})

	active := s.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, a, active[0].ID)
	assert.Equal(t, b, active[1].ID)
	assert.Equal(t, 50, active[1].Percentage)
	assert.Equal(t, 2*time.Second, active[0].Elapsed)
}

func TestStore_GetReturnsSnapshot(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create(testRequest())
	s.SetStatus(id, StatusRunning, nil)
	s.SetStatus(id, StatusCompleted, &Outcome{Results: []model.ResultItem{{Title: "x"}}})

	j, _ := s.Get(id)
	j.Results[0].Title = "mutated"
	j.Request.Sources[0] = "mutated"

	again, _ := s.Get(id)
	assert.Equal(t, "x", again.Results[0].Title)
	assert.Equal(t, "google", again.Request.Sources[0])
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	id := s.Create(testRequest())
	s.SetStatus(id, StatusRunning, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k <= 100; k++ {
				s.SetProgress(id, k, 100, "search", fmt.Sprintf("worker %d", i))
				_, _ = s.Get(id)
			}
		}(i)
	}
	wg.Wait()

	j, _ := s.Get(id)
	assert.Equal(t, 100, j.Progress.Percentage)
}
