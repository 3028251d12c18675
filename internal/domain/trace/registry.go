package trace

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/infrastructure/monitoring"
	"github.com/tracelight/crunch/internal/shared/types"
)

// Sink receives one rendered line per finalized trace.
type Sink interface {
	Write(traceID, line string) error
}

// Default tuning. A trace is finalized after DefaultIdleCredits sweep ticks
// with no new events; finished trace ids are remembered up to
// DefaultCompletedCapacity so they cannot be reopened.
const (
	DefaultIdleCredits       = 2
	DefaultCompletedCapacity = 100000
	defaultSampleSize        = 1024
)

// RegistryConfig configures a Registry. Zero values take defaults; Sink is
// required.
type RegistryConfig struct {
	IdleCredits       int
	CompletedCapacity int
	SampleSize        int
	Sink              Sink
	Logger            *zap.Logger
	Metrics           *monitoring.Metrics
}

// Registry owns every in-flight trace summary and the permanent record of
// finished traces. Add and Sweep are serialized by a single mutex; rendered
// lines are written to the sink after the lock is released so slow sinks
// never stall ingestion.
type Registry struct {
	mu        sync.Mutex
	summaries map[string]*Summary // live traces
	credits   map[string]int      // sweep ticks left per live trace
	completed map[string]struct{} // finished trace ids, never reopened
	order     []string            // completed ids in finish order, for eviction
	finalized uint64

	// bounded sample of finalized trace durations (ms) for the stats API
	durations []float64
	durIdx    int

	idleCredits int
	capacity    int
	sampleSize  int
	sink        Sink
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

// Stats is a point-in-time snapshot of registry state.
type Stats struct {
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Finalized uint64    `json:"finalized"`
	Durations []float64 `json:"-"`
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleCredits <= 0 {
		cfg.IdleCredits = DefaultIdleCredits
	}
	if cfg.CompletedCapacity <= 0 {
		cfg.CompletedCapacity = DefaultCompletedCapacity
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaultSampleSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Registry{
		summaries:   make(map[string]*Summary),
		credits:     make(map[string]int),
		completed:   make(map[string]struct{}),
		idleCredits: cfg.IdleCredits,
		capacity:    cfg.CompletedCapacity,
		sampleSize:  cfg.SampleSize,
		sink:        cfg.Sink,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Add folds an event into its trace. Events for already-finished traces are
// dropped; that is the no-resurrection guarantee, not an error. Callers are
// expected to have filtered events without timestamps.
func (r *Registry) Add(ev *types.LogEvent) {
	if !ev.HasTimestamp() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := ev.TraceID
	if _, done := r.completed[id]; done {
		r.metrics.RecordEventDroppedCompleted()
		r.logger.Debug("dropping event for finished trace", zap.String("trace_id", id))
		return
	}

	if s, ok := r.summaries[id]; ok {
		s.Add(ev)
	} else {
		r.summaries[id] = NewSummary(ev)
	}

	// Any event for a live trace buys it a full idle countdown again.
	r.credits[id] = r.idleCredits

	r.metrics.SetTracesActive(len(r.summaries))
}

type flushedTrace struct {
	id   string
	line string
}

// Sweep decrements every live trace's idle credits and finalizes those that
// have run out (or all of them when force is set). Finalized traces are
// rendered to the sink and their ids move permanently into the finished set.
func (r *Registry) Sweep(force bool) {
	start := time.Now()

	r.mu.Lock()

	// Stable snapshot of the live keys: finalization mutates the maps.
	ids := make([]string, 0, len(r.summaries))
	for id := range r.summaries {
		ids = append(ids, id)
	}

	var out []flushedTrace
	for _, id := range ids {
		s := r.summaries[id]

		c, ok := r.credits[id]
		if !ok {
			// Should be impossible given the Add/Sweep contracts. Log and
			// skip the entry this pass rather than crash.
			r.logger.Warn("idle credit entry missing for live trace",
				zap.String("trace_id", id))
			continue
		}

		c--
		if force || c <= 0 {
			out = append(out, flushedTrace{id: id, line: s.Render()})
			r.recordDuration(float64(s.DurationMillis()))
			r.markCompleted(id)
			delete(r.summaries, id)
			delete(r.credits, id)
		} else {
			r.credits[id] = c
		}
	}

	// The reverse anomaly: a credit entry with no summary would never be
	// visited above and would leak. Clear any out.
	for id := range r.credits {
		if _, ok := r.summaries[id]; !ok {
			r.logger.Warn("orphaned idle credit entry", zap.String("trace_id", id))
			delete(r.credits, id)
		}
	}

	r.finalized += uint64(len(out))
	active := len(r.summaries)
	r.mu.Unlock()

	// Sink writes happen outside the lock; a slow sink must not block Add.
	for _, f := range out {
		if err := r.sink.Write(f.id, f.line); err != nil {
			r.logger.Error("failed to emit trace summary",
				zap.String("trace_id", f.id), zap.Error(err))
		}
	}

	r.metrics.SetTracesActive(active)
	r.metrics.AddTracesFinalized(len(out))
	r.metrics.ObserveSweep(time.Since(start))
}

// Stop flushes every remaining live trace unconditionally. Safe to call on
// an empty registry and safe to call twice; the second call finds nothing
// live and emits nothing.
func (r *Registry) Stop() {
	r.Sweep(true)
}

// Stats returns a snapshot of registry state, including a copy of the
// finalized-duration sample.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	durs := make([]float64, len(r.durations))
	copy(durs, r.durations)

	return Stats{
		Active:    len(r.summaries),
		Completed: len(r.completed),
		Finalized: r.finalized,
		Durations: durs,
	}
}

// markCompleted records a finished trace id, evicting the oldest entries
// once the finished set reaches capacity. Eviction bounds memory over a
// long-running process; a trace finalized within the retention window still
// can never be reopened. Caller holds the lock.
func (r *Registry) markCompleted(id string) {
	r.completed[id] = struct{}{}
	r.order = append(r.order, id)

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.completed, oldest)
	}
}

// recordDuration stores a finalized trace duration in the bounded sample
// ring. Caller holds the lock.
func (r *Registry) recordDuration(ms float64) {
	if len(r.durations) < r.sampleSize {
		r.durations = append(r.durations, ms)
		return
	}
	r.durations[r.durIdx] = ms
	r.durIdx = (r.durIdx + 1) % r.sampleSize
}
