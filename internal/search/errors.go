package search

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownSource is wrapped by validation errors naming an unregistered source.
	ErrUnknownSource = errors.New("search: unknown source")
	// ErrCancelled is returned by Run when the job was cancelled between sources.
	ErrCancelled = errors.New("search: cancelled")
)

// ValidationError reports a malformed request. It is returned before any
// job is created.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SourceError is the failure of one source inside a search.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// AggregateError is returned when every source of a search failed.
type AggregateError struct {
	Failures []*SourceError
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "all sources failed: " + strings.Join(parts, "; ")
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
