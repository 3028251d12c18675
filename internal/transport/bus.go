package transport

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/infrastructure/monitoring"
	"github.com/tracelight/crunch/internal/shared/types"
)

// DefaultBusBuffer is the bounded queue size of the in-process bus.
const DefaultBusBuffer = 1024

// ErrAlreadySubscribed is returned by Subscribe when a consumer is already
// attached.
var ErrAlreadySubscribed = errors.New("bus already has a subscriber")

// Bus is a channel-backed in-process event feed: bounded queue, one consumer
// loop. Publish never blocks; when the queue is full the event is dropped
// and counted, which keeps request handling from ever stalling on the
// cruncher.
type Bus struct {
	ch      chan *types.LogEvent
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	subscribed bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBus creates a bus with the given queue size (default when <= 0).
func NewBus(buffer int, logger *zap.Logger, metrics *monitoring.Metrics) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		ch:      make(chan *types.LogEvent, buffer),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Publish enqueues an event without blocking. Full queue drops the event.
func (b *Bus) Publish(ev *types.LogEvent) {
	if ev == nil {
		return
	}
	select {
	case b.ch <- ev:
	default:
		b.metrics.RecordBusDropped()
		b.logger.Warn("event bus full, dropping event",
			zap.String("trace_id", ev.TraceID),
			zap.String("category", ev.Category))
	}
}

// Subscribe attaches the single consumer and starts the delivery loop.
func (b *Bus) Subscribe(handler func(*types.LogEvent)) error {
	b.mu.Lock()
	if b.subscribed {
		b.mu.Unlock()
		return ErrAlreadySubscribed
	}
	b.subscribed = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev := <-b.ch:
				handler(ev)
			case <-b.done:
				return
			}
		}
	}()
	return nil
}

// Send accepts a keep-alive ack. There is no remote peer to keep alive, so
// it is a no-op that always succeeds.
func (b *Bus) Send(ack *types.LogAck) error {
	return nil
}

// Close stops the delivery loop. Events still queued are discarded.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return nil
}
