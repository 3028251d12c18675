// Package sink provides output destinations for finalized trace summaries.
package sink

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives one rendered line per finalized trace.
type Sink interface {
	// Write emits a finalized trace summary. The line does not include the
	// trace id prefix; sinks decide how to present it.
	Write(traceID, line string) error
	Close() error
}

// Console writes summaries as "<traceId>: <line>" to a writer, one per
// line. Safe for concurrent use.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sink over the given writer.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Write emits one summary line.
func (c *Console) Write(traceID, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.w, "%s: %s\n", traceID, line); err != nil {
		return fmt.Errorf("console sink write failed: %w", err)
	}
	return nil
}

// Close is a no-op for the console sink.
func (c *Console) Close() error { return nil }

// Multi fans a summary out to several sinks. A failing sink never blocks
// the others; the first error is returned after all sinks have been tried.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write emits the summary to every sink.
func (m *Multi) Write(traceID, line string) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(traceID, line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink.
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
