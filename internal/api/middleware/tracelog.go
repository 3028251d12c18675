package middleware

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/shared/types"
	"github.com/tracelight/crunch/internal/transport"
)

// ContextHeader carries trace continuity between services: a JSON document
// holding the trace id and the caller's Lamport clock vector.
const ContextHeader = "X-Trace-Context"

const (
	ctxKeyTrace    = "trace_context"
	ctxKeyCategory = "trace_category"
)

// TraceContext is the wire form of trace continuity. A request that arrives
// with one joins the existing trace one clock level deeper; a request
// without one starts a new trace.
type TraceContext struct {
	TraceID string `json:"traceId"`
	Clock   []int  `json:"clock"`
}

// TracingConfig configures the request tracing middleware.
type TracingConfig struct {
	// Service is the default event category for requests handled here.
	Service string
	// Node identifies this process on every emitted event.
	Node string
	// Publisher receives the emitted log events.
	Publisher transport.Publisher
	Logger    *zap.Logger
}

// Tracing emits one log event when a request starts and one when it
// finishes (ERROR level on a 5xx or a panic), stamped with the request's
// trace context. The trace context is also injected into the response header
// so callers can correlate.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Node == "" {
		cfg.Node = uuid.NewString()
	}

	return func(c *gin.Context) {
		tc := joinOrStart(c.GetHeader(ContextHeader))
		c.Set(ctxKeyTrace, tc)
		c.Set(ctxKeyCategory, cfg.Service)

		start := time.Now()
		publish(cfg, c, tc, types.LevelDebug,
			fmt.Sprintf("request started: %s %s", c.Request.Method, c.Request.URL.Path))

		// Headers must go out before the body, so the advertised clock is the
		// one stamped on the start event; the completion event ticks past it.
		if encoded, err := sonic.MarshalString(tc); err == nil {
			c.Header(ContextHeader, encoded)
		}

		// The completion event is published from a defer so a panicking
		// handler still produces one: the panic unwinds through here before
		// the recovery middleware answers 500.
		finished := false
		defer func() {
			status := c.Writer.Status()
			if !finished {
				status = 500
			}

			level := types.LevelInfo
			if status >= 500 {
				level = types.LevelError
			}
			publish(cfg, c, tc, level,
				fmt.Sprintf("%s %s -> %d (%s)",
					c.Request.Method, c.Request.URL.Path, status, time.Since(start)))
		}()

		c.Next()
		finished = true
	}
}

// SetCategory overrides the event category for the remainder of the request,
// the way a handler claims a more specific logical operation name.
func SetCategory(c *gin.Context, category string) {
	c.Set(ctxKeyCategory, category)
}

// ContextFrom returns the request's trace context, if the tracing middleware
// is installed.
func ContextFrom(c *gin.Context) (*TraceContext, bool) {
	v, ok := c.Get(ctxKeyTrace)
	if !ok {
		return nil, false
	}
	tc, ok := v.(*TraceContext)
	return tc, ok
}

// joinOrStart parses the incoming context header, descending one clock level
// into an existing trace, or starts a fresh trace.
func joinOrStart(header string) *TraceContext {
	if header != "" {
		var parent TraceContext
		if err := sonic.UnmarshalString(header, &parent); err == nil && parent.TraceID != "" {
			clock := make([]int, 0, len(parent.Clock)+1)
			clock = append(clock, parent.Clock...)
			clock = append(clock, 0)
			return &TraceContext{TraceID: parent.TraceID, Clock: clock}
		}
	}
	return &TraceContext{TraceID: uuid.NewString(), Clock: []int{0}}
}

// publish ticks the local clock level and emits one event for this request.
func publish(cfg TracingConfig, c *gin.Context, tc *TraceContext, level, text string) {
	if cfg.Publisher == nil {
		return
	}

	tc.Clock[len(tc.Clock)-1]++
	clock := make([]int, len(tc.Clock))
	copy(clock, tc.Clock)

	category := cfg.Service
	if v, ok := c.Get(ctxKeyCategory); ok {
		if s, ok := v.(string); ok && s != "" {
			category = s
		}
	}

	cfg.Publisher.Publish(&types.LogEvent{
		TraceID:     tc.TraceID,
		Timestamp:   types.TimestampPtr(time.Now().UnixMilli()),
		Clock:       clock,
		Category:    category,
		Node:        cfg.Node,
		Level:       level,
		ContentType: "text/plain",
		Text:        text,
	})
}
