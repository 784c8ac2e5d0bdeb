package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Supervisor owns every background goroutine of the service: job
// executions and periodic housekeeping. Shutdown cancels them and waits.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSupervisor creates a supervisor whose goroutines derive from a fresh
// root context.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		cron:   cron.New(),
		logger: logger,
	}
}

// Go runs fn in a tracked goroutine. A panic in fn is recovered, logged and
// passed to onPanic when it is non-nil. The returned channel is closed when
// fn returns.
func (s *Supervisor) Go(name string, fn func(ctx context.Context), onPanic func(v any)) <-chan struct{} {
	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", fmt.Sprint(r))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn(s.ctx)
	}()
	return done
}

// Every schedules fn on a cron spec such as "@every 5m".
func (s *Supervisor) Every(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.Go(name, fn, nil)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start begins running scheduled housekeeping.
func (s *Supervisor) Start() {
	s.cron.Start()
}

// Shutdown stops the scheduler, cancels the root context and waits for
// tracked goroutines until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}
