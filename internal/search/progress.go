package search

import "fmt"

// ProgressAggregator maps the local progress of the index-th of n sources
// into the progress of the whole multi-source search. Each source owns a
// band of 100 units, so the overall total is n*100.
type ProgressAggregator struct {
	index int
	n     int
	name  string
	sink  ProgressFunc
}

// NewProgressAggregator creates the wrapper for source index (zero based)
// out of n. sink may be nil.
func NewProgressAggregator(index, n int, name string, sink ProgressFunc) *ProgressAggregator {
	return &ProgressAggregator{index: index, n: n, name: name, sink: sink}
}

// Report is a ProgressFunc that forwards the translated report to the sink.
func (a *ProgressAggregator) Report(stage, message string, current, total int) {
	if a.sink == nil {
		return
	}
	cur, tot := a.Overall(current, total)
	a.sink(a.Stage(stage), a.Message(message), cur, tot)
}

// Overall converts local progress into overall units.
func (a *ProgressAggregator) Overall(current, total int) (int, int) {
	local := 0
	if total > 0 {
		local = current * 100 / total
	}
	local = max(0, min(100, local))
	return a.index*100 + local, a.n * 100
}

// Stage prefixes the stage with the source name for multi-source searches.
func (a *ProgressAggregator) Stage(stage string) string {
	if a.n <= 1 {
		return stage
	}
	return a.name + "_" + stage
}

// Message prefixes the message with the source position for multi-source searches.
func (a *ProgressAggregator) Message(msg string) string {
	if a.n <= 1 {
		return msg
	}
	return fmt.Sprintf("Source %d/%d (%s): %s", a.index+1, a.n, a.name, msg)
}
