package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweeperFinalizesIdleTraces(t *testing.T) {
	out := &captureSink{}
	reg := newTestRegistry(out, 2)
	sw := NewSweeper(reg, 10*time.Millisecond)

	reg.Add(event("t1", 100, "api", 1))
	sw.Start()
	defer sw.Stop()

	assert.Eventually(t, func() bool {
		return len(out.all()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperStopHaltsTicks(t *testing.T) {
	out := &captureSink{}
	reg := newTestRegistry(out, 2)
	sw := NewSweeper(reg, 10*time.Millisecond)

	sw.Start()
	sw.Stop()

	// A trace added after Stop is never swept by the timer.
	reg.Add(event("t1", 100, "api", 1))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, out.all())
	assert.Equal(t, 1, reg.Stats().Active)
}

func TestSweeperStopIdempotent(t *testing.T) {
	sw := NewSweeper(newTestRegistry(&captureSink{}, 2), 10*time.Millisecond)
	sw.Start()
	sw.Stop()
	sw.Stop()
}

func TestSweeperStopWithoutStart(t *testing.T) {
	sw := NewSweeper(newTestRegistry(&captureSink{}, 2), 10*time.Millisecond)
	sw.Stop()
}
