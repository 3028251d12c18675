package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the crunch service. All record
// methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	EventsIngested  prometheus.Counter
	EventsMalformed prometheus.Counter
	EventsDropped   prometheus.Counter // events for already-finished traces
	BusDropped      prometheus.Counter // events lost to a full delivery queue

	// Aggregation metrics
	TracesActive    prometheus.Gauge
	TracesFinalized prometheus.Counter
	SweepDuration   prometheus.Histogram

	// Heartbeat metrics
	HeartbeatsSent   prometheus.Counter
	HeartbeatsFailed prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_events_ingested_total",
			Help: "Total number of log events accepted for aggregation",
		}),
		EventsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_events_malformed_total",
			Help: "Total number of events dropped at ingestion for a missing timestamp",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_events_dropped_completed_total",
			Help: "Total number of events dropped because their trace was already finalized",
		}),
		BusDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_bus_dropped_total",
			Help: "Total number of events dropped by a full delivery queue",
		}),

		TracesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crunch_traces_active",
			Help: "Number of traces currently in flight",
		}),
		TracesFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_traces_finalized_total",
			Help: "Total number of traces finalized",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crunch_sweep_duration_seconds",
			Help:    "Duration of sweep passes in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),

		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_heartbeats_sent_total",
			Help: "Total number of keep-alive acks sent upstream",
		}),
		HeartbeatsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crunch_heartbeats_failed_total",
			Help: "Total number of keep-alive sends that failed",
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crunch_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crunch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crunch_ws_connections",
			Help: "Number of active WebSocket subscribers",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crunch_ws_messages_total",
			Help: "Total number of WebSocket messages",
		}, []string{"direction", "type"}),

		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crunch_uptime_seconds",
			Help: "Service uptime in seconds",
		}),
	}

	go m.updateUptime()

	return m
}

// Handler returns an HTTP handler exposing this collector's registry in the
// Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordEventIngested records an event accepted for aggregation.
func (m *Metrics) RecordEventIngested() {
	if m == nil {
		return
	}
	m.EventsIngested.Inc()
}

// RecordEventMalformed records an event dropped for a missing timestamp.
func (m *Metrics) RecordEventMalformed() {
	if m == nil {
		return
	}
	m.EventsMalformed.Inc()
}

// RecordEventDroppedCompleted records an event dropped because its trace was
// already finalized.
func (m *Metrics) RecordEventDroppedCompleted() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordBusDropped records an event lost to a full delivery queue.
func (m *Metrics) RecordBusDropped() {
	if m == nil {
		return
	}
	m.BusDropped.Inc()
}

// SetTracesActive sets the in-flight trace gauge.
func (m *Metrics) SetTracesActive(count int) {
	if m == nil {
		return
	}
	m.TracesActive.Set(float64(count))
}

// AddTracesFinalized adds to the finalized trace counter.
func (m *Metrics) AddTracesFinalized(count int) {
	if m == nil || count == 0 {
		return
	}
	m.TracesFinalized.Add(float64(count))
}

// ObserveSweep records the duration of one sweep pass.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

// RecordHeartbeat records a keep-alive send attempt.
func (m *Metrics) RecordHeartbeat(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.HeartbeatsSent.Inc()
	} else {
		m.HeartbeatsFailed.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments the WebSocket subscriber gauge.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements the WebSocket subscriber gauge.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
