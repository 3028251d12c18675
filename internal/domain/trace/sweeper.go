package trace

import (
	"sync"
	"time"
)

// DefaultSweepInterval is the period between sweep ticks.
const DefaultSweepInterval = 2 * time.Second

// Sweeper drives periodic sweeps of a registry from its own goroutine,
// keeping the timer out of the registry's call path. It is a plain
// cancellable ticker loop; there is no self-rescheduling.
type Sweeper struct {
	registry *Registry
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper for the registry. A non-positive interval
// takes the default.
func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Calling Start more than once is a no-op.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.registry.Sweep(false)
		case <-s.done:
			return
		}
	}
}

// Stop cancels the ticker and waits for the loop to exit. It does not flush
// the registry; the owner decides when to call Registry.Stop, after the
// timer is down so a tick cannot race the final flush. Idempotent.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
