package types

import "time"

// Log levels carried by events. Levels are opaque to the aggregation
// algorithm; they exist so sources and sinks agree on vocabulary.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarn     = "WARN"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// LogEvent is one tracing event on the wire. The aggregator consumes only
// TraceID, Timestamp, Clock, and Category; the remaining fields are payload
// passed through untouched.
//
// Timestamp is a pointer so that a missing timestamp survives decoding and
// can be rejected at the ingestion boundary instead of silently becoming
// zero.
type LogEvent struct {
	TraceID     string `json:"traceId"`
	Timestamp   *int64 `json:"timestamp,omitempty"` // ms since epoch
	Clock       []int  `json:"clock,omitempty"`     // Lamport clock vector
	Category    string `json:"category"`
	Node        string `json:"node,omitempty"`
	Level       string `json:"level,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Text        string `json:"text,omitempty"`
}

// HasTimestamp reports whether the event carries a usable timestamp.
func (e *LogEvent) HasTimestamp() bool {
	return e != nil && e.Timestamp != nil
}

// Depth returns the length of the Lamport clock vector, used as a proxy for
// call-tree depth.
func (e *LogEvent) Depth() int {
	return len(e.Clock)
}

// LogAck is a minimal no-op acknowledgment sent upstream to keep the
// transport connection alive. It carries only a timestamp.
type LogAck struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// AckType identifies keep-alive frames on the wire.
const AckType = "ack"

// NewAck creates a keep-alive ack stamped with the current time.
func NewAck() *LogAck {
	return &LogAck{Type: AckType, Timestamp: time.Now().UnixMilli()}
}

// Millis converts a time to the wire timestamp format.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// TimestampPtr is a convenience for building events in code and tests.
func TimestampPtr(ms int64) *int64 {
	return &ms
}
