package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEndpointDown = errors.New("endpoint down")

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Do(func() error { return errEndpointDown }), errEndpointDown)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// While open, the attempt never runs.
	ran := false
	err := cb.Do(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.Do(func() error { return errEndpointDown })
	cb.Do(func() error { return errEndpointDown })
	require.NoError(t, cb.Do(func() error { return nil }))

	cb.Do(func() error { return errEndpointDown })
	cb.Do(func() error { return errEndpointDown })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestProbeAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Do(func() error { return errEndpointDown })
	require.Equal(t, CircuitOpen, cb.State())

	// A failed probe reopens for another full cooldown.
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, cb.Do(func() error { return errEndpointDown }), errEndpointDown)
	assert.Equal(t, CircuitOpen, cb.State())

	// A successful probe closes the gate.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Do(func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestSingleProbeAtATime(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond)
	cb.Do(func() error { return errEndpointDown })
	time.Sleep(10 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cb.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Do(func() error { return nil }), ErrProbeInFlight)

	close(release)
	<-done
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestResetForceCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.Do(func() error { return errEndpointDown })
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Do(func() error { return nil }))
}
