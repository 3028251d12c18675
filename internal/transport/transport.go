// Package transport delivers log events to the crunch engine.
//
// Two implementations exist: an in-process bus for when the event source
// lives in the same process (demo mode, tests), and a WebSocket client for
// subscribing to a remote event stream. Both deliver events through a
// single consumer callback and accept keep-alive acks for upstream.
package transport

import "github.com/tracelight/crunch/internal/shared/types"

// Transport is the upstream event feed as seen by the ingest handler:
// a subscription delivering events to a callback, and a send path for
// keep-alive acks.
type Transport interface {
	// Subscribe registers the event callback and starts delivery. At most
	// one subscriber is supported.
	Subscribe(handler func(*types.LogEvent)) error
	// Send transmits a keep-alive ack upstream.
	Send(ack *types.LogAck) error
	// Close stops delivery and releases the connection. Idempotent.
	Close() error
}

// Publisher is the producer side of an event feed; the tracing middleware
// and the HTTP ingestion endpoint publish through it.
type Publisher interface {
	Publish(ev *types.LogEvent)
}

type fanout []Publisher

// Fanout returns a publisher that delivers each event to every target.
func Fanout(targets ...Publisher) Publisher {
	return fanout(targets)
}

func (f fanout) Publish(ev *types.LogEvent) {
	for _, p := range f {
		p.Publish(ev)
	}
}
