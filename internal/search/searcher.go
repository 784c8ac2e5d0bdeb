package search

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/FranksOps/sift/internal/model"
)

// ProgressFunc receives progress reports from a searcher. current/total are
// in the searcher's own units.
type ProgressFunc func(stage, message string, current, total int)

// Searcher runs a query against one external platform. Implementations
// should report progress through fn when it is non-nil and must honor ctx.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, fn ProgressFunc) ([]model.ResultItem, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string, limit int, fn ProgressFunc) ([]model.ResultItem, error)

func (f SearcherFunc) Search(ctx context.Context, query string, limit int, fn ProgressFunc) ([]model.ResultItem, error) {
	return f(ctx, query, limit, fn)
}

// AllSources selects every registered source.
const AllSources = "all"

// Registry maps source names to searchers, preserving registration order.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	searchers map[string]Searcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{searchers: make(map[string]Searcher)}
}

// Register adds s under name. Names are case-insensitive.
func (r *Registry) Register(name string, s Searcher) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == AllSources || strings.Contains(name, ",") {
		return fmt.Errorf("search: invalid source name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.searchers[name]; ok {
		return fmt.Errorf("search: source %q already registered", name)
	}
	r.names = append(r.names, name)
	r.searchers[name] = s
	return nil
}

// Lookup returns the searcher registered under name.
func (r *Registry) Lookup(name string) (Searcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.searchers[name]
	return s, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}

// ParseSources resolves a selection string into source names. The
// selection is "all", a single name, or a comma separated list; it is
// case-insensitive and tolerates whitespace. An empty selection means all.
func (r *Registry) ParseSources(selection string) ([]string, error) {
	names := r.Names()
	if len(names) == 0 {
		return nil, &ValidationError{Field: "sources", Reason: "no sources are registered", Err: ErrUnknownSource}
	}

	var out []string
	for _, part := range strings.Split(selection, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == AllSources {
			return names, nil
		}
		if !slices.Contains(names, name) {
			return nil, &ValidationError{
				Field:  "sources",
				Reason: fmt.Sprintf("unknown source %q (available: %s)", name, strings.Join(names, ", ")),
				Err:    ErrUnknownSource,
			}
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return names, nil
	}
	return out, nil
}
