package ratelimit

import (
	"context"
	"fmt"
	"sync"
)

// GlobalScope names the shared bucket in LimitError.
const GlobalScope = "global"

// LimitError reports which bucket refused a request.
type LimitError struct {
	Scope string
	Err   error
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("ratelimit: %s bucket: %v", e.Scope, e.Err)
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

// Manager combines one global bucket with one bucket per source. A request
// is admitted only when both buckets admit it.
type Manager struct {
	global   *Bucket
	defaults Config

	mu      sync.Mutex
	sources map[string]*Bucket
}

// NewManager creates a manager. perSource overrides apply to the named
// sources; every other source gets a bucket built from sourceDefault.
func NewManager(global, sourceDefault Config, perSource map[string]Config) *Manager {
	m := &Manager{
		global:   NewBucket(global),
		defaults: sourceDefault,
		sources:  make(map[string]*Bucket),
	}
	for name, cfg := range perSource {
		m.sources[name] = NewBucket(cfg)
	}
	return m
}

// Acquire takes one token from the source bucket and then one from the
// global bucket. If the global bucket refuses, the source token is refunded.
func (m *Manager) Acquire(ctx context.Context, source string) error {
	if m == nil {
		return nil
	}
	sb := m.bucket(source)
	if err := sb.Take(ctx); err != nil {
		return &LimitError{Scope: source, Err: err}
	}
	if err := m.global.Take(ctx); err != nil {
		sb.Refund()
		return &LimitError{Scope: GlobalScope, Err: err}
	}
	return nil
}

// Source returns the bucket used for source, creating it on first use.
func (m *Manager) Source(source string) *Bucket {
	if m == nil {
		return nil
	}
	return m.bucket(source)
}

// Global returns the shared bucket.
func (m *Manager) Global() *Bucket {
	if m == nil {
		return nil
	}
	return m.global
}

func (m *Manager) bucket(source string) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.sources[source]
	if !ok {
		b = NewBucket(m.defaults)
		m.sources[source] = b
	}
	return b
}
