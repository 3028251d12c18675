package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tracelight/crunch/internal/shared/types"
)

func event(traceID string, ts int64, category string, depth int) *types.LogEvent {
	return &types.LogEvent{
		TraceID:   traceID,
		Timestamp: types.TimestampPtr(ts),
		Clock:     make([]int, depth),
		Category:  category,
	}
}

func TestSummaryFold(t *testing.T) {
	s := NewSummary(event("t1", 100, "api", 1))
	s.Add(event("t1", 250, "db", 2))
	s.Add(event("t1", 180, "cache", 3))

	assert.Equal(t, 3, s.Count())
	assert.Equal(t, int64(150), s.DurationMillis())
	assert.Equal(t, "api", s.Category())
	assert.Equal(t, "api -- 150ms, 3 calls, 3 levels", s.Render())
}

func TestSummaryCategoryRetroactive(t *testing.T) {
	// A late-arriving event with an earlier timestamp takes over the
	// category, regardless of arrival order.
	s := NewSummary(event("t1", 100, "A", 1))
	s.Add(event("t1", 50, "B", 1))

	assert.Equal(t, "B", s.Category())
	assert.Equal(t, int64(50), s.DurationMillis())
}

func TestSummaryCategoryKeptWhenLater(t *testing.T) {
	s := NewSummary(event("t1", 50, "B", 1))
	s.Add(event("t1", 100, "A", 1))

	assert.Equal(t, "B", s.Category())
}

func TestSummaryPluralization(t *testing.T) {
	single := NewSummary(event("t1", 10, "api", 1))
	assert.Equal(t, "api -- 0ms, 1 call, 1 level", single.Render())

	many := NewSummary(event("t2", 10, "api", 1))
	many.Add(event("t2", 10, "api", 1))
	many.Add(event("t2", 10, "api", 1))
	assert.Equal(t, "api -- 0ms, 3 calls, 1 level", many.Render())
}

func TestSummaryZeroDepth(t *testing.T) {
	s := NewSummary(&types.LogEvent{
		TraceID:   "t1",
		Timestamp: types.TimestampPtr(10),
		Category:  "api",
	})
	assert.Equal(t, "api -- 0ms, 1 call, 0 levels", s.Render())
}
