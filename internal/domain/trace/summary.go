package trace

import (
	"fmt"

	"github.com/tracelight/crunch/internal/shared/types"
)

// Summary reduces one trace down to its boundary timestamps, event count,
// maximum clock depth, and the category of the earliest event.
type Summary struct {
	first    int64 // earliest timestamp seen (ms)
	last     int64 // latest timestamp seen (ms)
	count    int   // events folded in
	maxDepth int   // deepest Lamport clock seen
	category string
}

// NewSummary creates a summary seeded with a single event. The caller must
// have verified the event carries a timestamp.
func NewSummary(ev *types.LogEvent) *Summary {
	ts := *ev.Timestamp
	return &Summary{
		first:    ts,
		last:     ts,
		count:    1,
		maxDepth: ev.Depth(),
		category: ev.Category,
	}
}

// Add folds one more event into the summary.
//
// The category tracks whichever event currently holds the minimum timestamp,
// so a late-arriving event with an earlier timestamp retroactively changes
// the reported category. That is intentional: out-of-order delivery is
// normal and the summary should name the true root of the trace.
func (s *Summary) Add(ev *types.LogEvent) {
	ts := *ev.Timestamp

	if ts < s.first {
		s.first = ts
		s.category = ev.Category
	}
	if ts > s.last {
		s.last = ts
	}
	if d := ev.Depth(); d > s.maxDepth {
		s.maxDepth = d
	}
	s.count++
}

// Count returns the number of events folded into the summary.
func (s *Summary) Count() int { return s.count }

// DurationMillis returns last-first in milliseconds.
func (s *Summary) DurationMillis() int64 { return s.last - s.first }

// Category returns the category of the earliest event seen so far.
func (s *Summary) Category() string { return s.category }

// Render formats the summary as a single human-readable line.
func (s *Summary) Render() string {
	return fmt.Sprintf("%s -- %dms, %d call%s, %d level%s",
		s.category, s.last-s.first,
		s.count, plural(s.count),
		s.maxDepth, plural(s.maxDepth))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
