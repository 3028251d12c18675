package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight/crunch/internal/shared/types"
)

func busEvent(id string) *types.LogEvent {
	return &types.LogEvent{
		TraceID:   id,
		Timestamp: types.TimestampPtr(100),
		Category:  "api",
	}
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus(16, nil, nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(func(ev *types.LogEvent) {
		mu.Lock()
		got = append(got, ev.TraceID)
		mu.Unlock()
	}))

	bus.Publish(busEvent("t1"))
	bus.Publish(busEvent("t2"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBusSecondSubscriberRejected(t *testing.T) {
	bus := NewBus(16, nil, nil)
	defer bus.Close()

	require.NoError(t, bus.Subscribe(func(*types.LogEvent) {}))
	assert.ErrorIs(t, bus.Subscribe(func(*types.LogEvent) {}), ErrAlreadySubscribed)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	// No subscriber and a tiny buffer: overflow is dropped, not blocked on.
	bus := NewBus(1, nil, nil)
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(busEvent("t1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full bus")
	}
}

func TestBusSendIsNoop(t *testing.T) {
	bus := NewBus(16, nil, nil)
	defer bus.Close()
	assert.NoError(t, bus.Send(types.NewAck()))
}

func TestBusCloseIdempotent(t *testing.T) {
	bus := NewBus(16, nil, nil)
	require.NoError(t, bus.Subscribe(func(*types.LogEvent) {}))
	assert.NoError(t, bus.Close())
	assert.NoError(t, bus.Close())
}
