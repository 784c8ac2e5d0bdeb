package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/storage"
	"github.com/FranksOps/sift/internal/task"
	"github.com/FranksOps/sift/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func items(host string, n int) []model.ResultItem {
	out := make([]model.ResultItem, n)
	for i := range out {
		out[i] = model.ResultItem{Title: fmt.Sprintf("%s %d", host, i), URL: fmt.Sprintf("https://%s/%d", host, i)}
	}
	return out
}

func quick(host string) search.Searcher {
	return search.SearcherFunc(func(ctx context.Context, query string, limit int, fn search.ProgressFunc) ([]model.ResultItem, error) {
		return items(host, limit), nil
	})
}

func failing(msg string) search.Searcher {
	return search.SearcherFunc(func(ctx context.Context, query string, limit int, fn search.ProgressFunc) ([]model.ResultItem, error) {
		return nil, errors.New(msg)
	})
}

// gated blocks until release is closed.
type gated struct {
	host    string
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	once    sync.Once
}

func newGated(host string) *gated {
	return &gated{host: host, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gated) Search(ctx context.Context, query string, limit int, fn search.ProgressFunc) ([]model.ResultItem, error) {
	g.calls.Add(1)
	fn("searching", "waiting", 1, 2)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return items(g.host, limit), nil
}

type memArchive struct {
	mu   sync.Mutex
	recs map[string]*storage.Record
}

func (m *memArchive) Save(ctx context.Context, rec *storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]*storage.Record)
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memArchive) Query(ctx context.Context, f storage.Filter) ([]*storage.Record, error) {
	return nil, nil
}

func (m *memArchive) Close() error { return nil }

func (m *memArchive) get(id string) *storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[id]
}

type fixture struct {
	svc     *Service
	store   *task.Store
	archive *memArchive
}

func newFixture(t *testing.T, cfg Config, sources map[string]search.Searcher, order ...string) *fixture {
	t.Helper()
	reg := search.NewRegistry()
	for _, name := range order {
		require.NoError(t, reg.Register(name, sources[name]))
	}
	store := task.NewStore(discard)
	coord := search.NewCoordinator(search.Config{Registry: reg, Logger: discard})
	archive := &memArchive{}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 200 * time.Millisecond
	}
	svc := NewService(cfg, store, coord, nil, archive, discard)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &fixture{svc: svc, store: store, archive: archive}
}

func waitStatus(t *testing.T, svc *Service, id, status string) JobView {
	t.Helper()
	var v JobView
	require.Eventually(t, func() bool {
		v = svc.GetJobStatus(id)
		return v.Status == status
	}, 2*time.Second, 5*time.Millisecond, "job never reached %s", status)
	return v
}

func TestStartJob_FastPathReturnsResultsInline(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{"google": quick("g")}, "google")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Sources: "google", Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Status)
	assert.NotEmpty(t, resp.ID)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "google", resp.Results[0].Platform)
}

func TestStartJob_SlowJobReturnsStartedWithinGrace(t *testing.T) {
	g := newGated("slow")
	f := newFixture(t, Config{GracePeriod: 50 * time.Millisecond}, map[string]search.Searcher{"slow": g}, "slow")

	start := time.Now()
	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Sources: "slow"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 1200*time.Millisecond)
	assert.Equal(t, StatusStarted, resp.Status)
	assert.Empty(t, resp.Results)

	<-g.started
	v := f.svc.GetJobStatus(resp.ID)
	assert.Equal(t, "running", v.Status)
	require.NotNil(t, v.Progress)
	assert.Equal(t, "searching", v.Progress.Stage)

	close(g.release)
	v = waitStatus(t, f.svc, resp.ID, "completed")
	assert.Equal(t, 10, v.Count, "default limit applies")
	assert.Nil(t, v.Progress, "finished jobs report no progress")

	job, err := f.store.Get(resp.ID)
	require.NoError(t, err)
	require.NotNil(t, job.Progress)
	assert.Equal(t, 100, job.Progress.Percentage, "last reading before completion")
	assert.Equal(t, "completed", job.Progress.Stage)
}

func TestStartJob_ValidationCreatesNoJob(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{"google": quick("g")}, "google")

	_, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Sources: "google, bing"})
	var verr *search.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, search.ErrUnknownSource)

	_, err = f.svc.StartJob(context.Background(), StartRequest{Query: `  <"'>  `, Sources: "google"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)

	_, err = f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Limit: -1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)

	assert.Equal(t, 0, f.store.Len())
}

func TestStartJob_ClampsLimitAndDefaultsContent(t *testing.T) {
	f := newFixture(t, Config{MaxLimit: 5}, map[string]search.Searcher{"google": quick("g")}, "google")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Request.Limit)
	assert.True(t, resp.Request.IncludeContent)
	assert.Len(t, resp.Results, 5)

	off := false
	resp, err = f.svc.StartJob(context.Background(), StartRequest{Query: "golang", IncludeContent: &off})
	require.NoError(t, err)
	assert.False(t, resp.Request.IncludeContent)
}

func TestStartJob_PartialFailureCompletes(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{
		"google": quick("g"),
		"weixin": failing("captcha page"),
	}, "google", "weixin")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Sources: "all", Limit: 4})
	require.NoError(t, err)
	require.Equal(t, "completed", resp.Status)
	assert.Len(t, resp.Results, 2)
	assert.Contains(t, resp.Summary, "weixin: captcha page")

	v := f.svc.GetJobStatus(resp.ID)
	require.Len(t, v.Failures, 1)
	assert.Equal(t, "weixin", v.Failures[0].Source)
}

func TestStartJob_AllFailIsFailed(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{
		"google": failing("quota exceeded"),
		"weixin": failing("captcha page"),
	}, "google", "weixin")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, "google: quota exceeded")
	assert.Contains(t, resp.Error, "weixin: captcha page")

	v := f.svc.GetJobStatus(resp.ID)
	assert.Equal(t, "failed", v.Status)
	assert.Len(t, v.Failures, 2)

	rec := f.archive.get(resp.ID)
	require.NotNil(t, rec)
	assert.Equal(t, "failed", rec.Status)
}

func TestStartJob_SingleSourceFailure(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{"google": failing("boom")}, "google")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, "boom")

	v := f.svc.GetJobStatus(resp.ID)
	require.Len(t, v.Failures, 1)
	assert.Equal(t, "google", v.Failures[0].Source)
}

func TestCancelJob_StopsBeforeNextSource(t *testing.T) {
	first := newGated("first")
	second := newGated("second")
	f := newFixture(t, Config{GracePeriod: 10 * time.Millisecond}, map[string]search.Searcher{
		"first":  first,
		"second": second,
	}, "first", "second")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	require.NoError(t, err)
	<-first.started

	cr := f.svc.CancelJob(resp.ID)
	assert.Equal(t, "cancelled", cr.Status)

	// The in-flight source runs to completion.
	close(first.release)
	require.Eventually(t, func() bool {
		rec := f.archive.get(resp.ID)
		return rec != nil
	}, 2*time.Second, 5*time.Millisecond)

	v := f.svc.GetJobStatus(resp.ID)
	assert.Equal(t, "cancelled", v.Status)
	assert.Empty(t, v.Results)
	assert.Equal(t, int32(0), second.calls.Load())

	again := f.svc.CancelJob(resp.ID)
	assert.Equal(t, StatusNotCancelled, again.Status)
	assert.Equal(t, "task already finished", again.Message)
}

func TestCancelJob_Unknown(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{"google": quick("g")}, "google")
	cr := f.svc.CancelJob("nope")
	assert.Equal(t, StatusNotCancelled, cr.Status)
	assert.Equal(t, "task not found", cr.Message)
}

func TestGetJobStatus_NotFoundMentionsExpiry(t *testing.T) {
	f := newFixture(t, Config{MaxAge: 10 * time.Minute}, map[string]search.Searcher{"google": quick("g")}, "google")
	v := f.svc.GetJobStatus("missing")
	assert.Equal(t, StatusNotFound, v.Status)
	assert.Contains(t, v.Message, "10m0s")
}

func TestGetJobStatus_ReapedJobIsNotFound(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{"google": quick("g")}, "google")
	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	require.NoError(t, err)
	require.Equal(t, "completed", resp.Status)

	assert.Equal(t, 1, f.store.ReapOlderThan(-time.Second))
	assert.Equal(t, StatusNotFound, f.svc.GetJobStatus(resp.ID).Status)
}

func TestStartJob_PanicMarksFailed(t *testing.T) {
	f := newFixture(t, Config{}, map[string]search.Searcher{
		"google": search.SearcherFunc(func(ctx context.Context, query string, limit int, fn search.ProgressFunc) ([]model.ResultItem, error) {
			panic("nil map")
		}),
	}, "google")

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.Status)
	assert.True(t, strings.HasPrefix(resp.Error, "internal error"), resp.Error)
}

func TestStartJob_IntakeRejects(t *testing.T) {
	intake := ratelimit.NewBucket(ratelimit.Config{Capacity: 1, Policy: ratelimit.PolicyReject})
	f := newFixture(t, Config{Intake: intake}, map[string]search.Searcher{"google": quick("g")}, "google")

	_, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	require.NoError(t, err)

	_, err = f.svc.StartJob(context.Background(), StartRequest{Query: "golang"})
	assert.ErrorIs(t, err, ErrAdmission)
	assert.Equal(t, 1, f.store.Len())
}

func TestListActiveAndPlatforms(t *testing.T) {
	g := newGated("slow")
	f := newFixture(t, Config{GracePeriod: 10 * time.Millisecond}, map[string]search.Searcher{
		"slow":   g,
		"google": quick("g"),
	}, "slow", "google")

	assert.Equal(t, []string{"slow", "google"}, f.svc.Platforms())

	resp, err := f.svc.StartJob(context.Background(), StartRequest{Query: "golang", Sources: "slow"})
	require.NoError(t, err)
	<-g.started

	active := f.svc.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, resp.ID, active[0].ID)

	close(g.release)
	waitStatus(t, f.svc, resp.ID, "completed")
	assert.Empty(t, f.svc.ListActive())
}

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  golang  ", "golang"},
		{`<script>"x'</script>`, "scriptx/script"},
		{strings.Repeat("a", 150), strings.Repeat("a", MaxQueryRunes)},
		{strings.Repeat("中", 120), strings.Repeat("中", MaxQueryRunes)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeQuery(tt.in))
	}
}

func TestRecordFromJob(t *testing.T) {
	created := time.Unix(100, 0)
	finished := created.Add(time.Second)
	rec := RecordFromJob(task.Job{
		ID:         "id",
		Status:     task.StatusCompleted,
		Request:    model.Request{Query: "q", Sources: []string{"google"}, Limit: 3, IncludeContent: true},
		Results:    items("g", 1),
		Summary:    "ok",
		CreatedAt:  created,
		FinishedAt: &finished,
	})
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, []string{"google"}, rec.Sources)
	assert.True(t, rec.FinishedAt.Equal(finished))
	assert.Len(t, rec.Results, 1)
}
