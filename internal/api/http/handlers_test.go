package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight/crunch/internal/domain/trace"
	"github.com/tracelight/crunch/internal/shared/types"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*types.LogEvent
}

func (p *capturePublisher) Publish(ev *types.LogEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type discardSink struct{}

func (discardSink) Write(string, string) error { return nil }

func newTestRegistry() *trace.Registry {
	return trace.NewRegistry(trace.RegistryConfig{Sink: discardSink{}})
}

func newTestRouter(registry *trace.Registry, pub *capturePublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(registry, pub, nil, "monolith")

	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
	router.POST("/events", h.IngestEvent)
	return router
}

func TestHealth(t *testing.T) {
	router := newTestRouter(newTestRegistry(), &capturePublisher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIngestEventAccepted(t *testing.T) {
	pub := &capturePublisher{}
	router := newTestRouter(newTestRegistry(), pub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events",
		strings.NewReader(`{"traceId":"abc","timestamp":100,"category":"api","clock":[1]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, "abc", pub.events[0].TraceID)
	assert.Equal(t, int64(100), *pub.events[0].Timestamp)
}

func TestIngestEventRejectsMissingTraceID(t *testing.T) {
	pub := &capturePublisher{}
	router := newTestRouter(newTestRegistry(), pub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events",
		strings.NewReader(`{"timestamp":100,"category":"api"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.events)
}

func TestIngestEventRejectsMalformedJSON(t *testing.T) {
	router := newTestRouter(newTestRegistry(), &capturePublisher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	registry := newTestRegistry()
	ts := func(ms int64) *int64 { return &ms }

	// Finalize two traces so the stats carry durations.
	registry.Add(&types.LogEvent{TraceID: "t1", Timestamp: ts(0), Category: "api", Clock: []int{1}})
	registry.Add(&types.LogEvent{TraceID: "t1", Timestamp: ts(10), Category: "api", Clock: []int{2}})
	registry.Add(&types.LogEvent{TraceID: "t2", Timestamp: ts(5), Category: "web", Clock: []int{1}})
	registry.Add(&types.LogEvent{TraceID: "t2", Timestamp: ts(25), Category: "web", Clock: []int{2}})
	registry.Stop()
	registry.Add(&types.LogEvent{TraceID: "t3", Timestamp: ts(50), Category: "api", Clock: []int{1}})

	router := newTestRouter(registry, &capturePublisher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Traces struct {
			Active    int   `json:"active"`
			Completed int   `json:"completed"`
			Finalized int64 `json:"finalized"`
		} `json:"traces"`
		Durations struct {
			Samples int     `json:"samples"`
			P50     float64 `json:"p50"`
			P99     float64 `json:"p99"`
		} `json:"durations_ms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, 1, body.Traces.Active)
	assert.Equal(t, 2, body.Traces.Completed)
	assert.Equal(t, int64(2), body.Traces.Finalized)
	assert.Equal(t, 2, body.Durations.Samples)
	assert.InDelta(t, 10, body.Durations.P50, 0.001)
	assert.InDelta(t, 20, body.Durations.P99, 0.001)
}

func TestStatsEmptyRegistry(t *testing.T) {
	router := newTestRouter(newTestRegistry(), &capturePublisher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	durs := body["durations_ms"].(map[string]any)
	assert.Equal(t, float64(0), durs["samples"])
}
