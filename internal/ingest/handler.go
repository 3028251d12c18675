// Package ingest connects the upstream transport to the trace registry:
// it filters malformed events, forwards the rest, and owns the heartbeat
// that keeps the upstream connection alive.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/domain/trace"
	"github.com/tracelight/crunch/internal/infrastructure/monitoring"
	"github.com/tracelight/crunch/internal/shared/types"
	"github.com/tracelight/crunch/internal/transport"
)

// DefaultHeartbeatInterval is the period between keep-alive acks.
const DefaultHeartbeatInterval = 15 * time.Second

// Handler receives raw events from the transport and feeds the registry.
type Handler struct {
	transport transport.Transport
	registry  *trace.Registry
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	interval  time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Config configures a Handler. Transport and Registry are required.
type Config struct {
	Transport         transport.Transport
	Registry          *trace.Registry
	Logger            *zap.Logger
	Metrics           *monitoring.Metrics
	HeartbeatInterval time.Duration
}

// New creates an ingest handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Handler{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		interval:  cfg.HeartbeatInterval,
		done:      make(chan struct{}),
	}
}

// OnEvent is the per-event callback. Events without a timestamp are dropped
// here, at the boundary; everything else goes to the registry untouched.
func (h *Handler) OnEvent(ev *types.LogEvent) {
	if !ev.HasTimestamp() {
		h.metrics.RecordEventMalformed()
		h.logger.Info("skipping event without timestamp",
			zap.String("trace_id", traceIDOf(ev)),
			zap.String("category", categoryOf(ev)))
		return
	}
	h.metrics.RecordEventIngested()
	h.registry.Add(ev)
}

// Start subscribes to the transport and starts the heartbeat loop.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	if err := h.transport.Subscribe(h.OnEvent); err != nil {
		return fmt.Errorf("failed to subscribe for events: %w", err)
	}
	h.started = true

	h.wg.Add(1)
	go h.heartbeatLoop()

	return nil
}

// heartbeatLoop periodically sends a no-op ack upstream. Send failures are
// logged and retried on the next tick; they never interrupt ingestion.
func (h *Handler) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.transport.Send(types.NewAck()); err != nil {
				h.metrics.RecordHeartbeat(false)
				h.logger.Warn("heartbeat send failed", zap.Error(err))
			} else {
				h.metrics.RecordHeartbeat(true)
			}
		case <-h.done:
			return
		}
	}
}

// Stop cancels the heartbeat, force-flushes the registry, and closes the
// transport. Safe to call without a prior Start and safe to call twice.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	wasStarted := h.started
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	if h.registry != nil {
		h.registry.Stop()
	}

	if wasStarted {
		if err := h.transport.Close(); err != nil {
			// The flush above already happened; a dying upstream cannot
			// lose us any in-flight trace output.
			h.logger.Warn("transport close failed", zap.Error(err))
		}
	}
}

func traceIDOf(ev *types.LogEvent) string {
	if ev == nil {
		return ""
	}
	return ev.TraceID
}

func categoryOf(ev *types.LogEvent) string {
	if ev == nil {
		return ""
	}
	return ev.Category
}
