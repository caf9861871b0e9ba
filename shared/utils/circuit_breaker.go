package utils

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the position of the delivery gate.
type CircuitState string

const (
	// CircuitClosed lets deliveries through.
	CircuitClosed CircuitState = "closed"
	// CircuitOpen fails deliveries fast until the cooldown elapses.
	CircuitOpen CircuitState = "open"
	// CircuitProbing lets one delivery through to test recovery.
	CircuitProbing CircuitState = "probing"
)

var (
	// ErrCircuitOpen fails a delivery without attempting it.
	ErrCircuitOpen = errors.New("delivery suspended: circuit open")
	// ErrProbeInFlight rejects deliveries while the recovery probe runs.
	ErrProbeInFlight = errors.New("delivery suspended: recovery probe in flight")
)

// CircuitBreaker guards an unreliable downstream such as the relay's
// webhook endpoint. Consecutive failures reaching the threshold open the
// circuit; after the cooldown a single probe delivery decides whether it
// closes again or reopens for another cooldown.
type CircuitBreaker struct {
	failThreshold int
	cooldown      time.Duration

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker builds a closed breaker. Thresholds come from the
// owning service's configuration.
func NewCircuitBreaker(failThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failThreshold: failThreshold,
		cooldown:      cooldown,
		state:         CircuitClosed,
	}
}

// Do runs one delivery attempt through the gate. When the circuit is open
// or a probe is already in flight, fn never runs and the caller gets the
// corresponding sentinel error for its dead-letter handling.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.settle(err == nil)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = CircuitProbing
		cb.probeInFlight = true
		return nil
	case CircuitProbing:
		if cb.probeInFlight {
			return ErrProbeInFlight
		}
		cb.probeInFlight = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) settle(delivered bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if delivered {
		cb.state = CircuitClosed
		cb.failures = 0
		cb.probeInFlight = false
		return
	}

	cb.failures++
	cb.probeInFlight = false
	if cb.state == CircuitProbing || cb.failures >= cb.failThreshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

// State reports the current gate position for health endpoints.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset force-closes the gate, discarding the failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probeInFlight = false
}
