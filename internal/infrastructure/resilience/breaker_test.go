package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func ok() error      { return nil }

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3, Cooldown: time.Minute})

	assert.ErrorIs(t, b.Execute(failing), errBoom)
	assert.ErrorIs(t, b.Execute(failing), errBoom)
	assert.Equal(t, StateClosed, b.State())

	// A success resets the consecutive-failure count.
	require.NoError(t, b.Execute(ok))
	assert.ErrorIs(t, b.Execute(failing), errBoom)
	assert.ErrorIs(t, b.Execute(failing), errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(failing), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ok), ErrCircuitOpen)
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	require.ErrorIs(t, b.Execute(failing), errBoom)
	require.ErrorIs(t, b.Execute(ok), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes the breaker again.
	require.NoError(t, b.Execute(ok))
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(ok))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	require.ErrorIs(t, b.Execute(failing), errBoom)
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, b.Execute(failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ok), ErrCircuitOpen)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("upstream", Settings{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+": "+from.String()+" -> "+to.String())
		},
	})

	require.ErrorIs(t, b.Execute(failing), errBoom)
	assert.Equal(t, []string{"upstream: closed -> open"}, transitions)
}

func TestBreakerDefaults(t *testing.T) {
	b := New("test", Settings{})

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Execute(failing), errBoom)
	}
	assert.Equal(t, StateClosed, b.State())
	require.ErrorIs(t, b.Execute(failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
}
