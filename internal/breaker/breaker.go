// Package breaker implements a per-dependency circuit breaker state
// machine, per spec.md §4.6. It generalizes the consecutive-failure /
// blocked-until pattern used for provider health tracking in the search
// pack's health.go into the full three-state CLOSED/OPEN/HALF_OPEN machine
// the spec requires, including the single in-flight HALF_OPEN probe.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting calls.
type ErrOpen struct{ Name string }

func (e *ErrOpen) Error() string { return "circuit breaker " + e.Name + " is open" }

// Breaker is a single named dependency's failure-isolation state machine.
// All fields are guarded by mu; holders never perform I/O under the lock.
type Breaker struct {
	Name      string
	Threshold int
	Reset     time.Duration

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastFailure      time.Time
	probeInFlight    bool
}

// New constructs a breaker for the given dependency name with the given
// consecutive-failure threshold and reset duration.
func New(name string, threshold int, reset time.Duration) *Breaker {
	return &Breaker{Name: name, Threshold: threshold, Reset: reset, state: Closed}
}

// Allow reports whether a call may proceed right now. If it returns true
// while the breaker is HALF_OPEN, the caller has been granted the single
// in-flight probe and MUST call Succeed or Fail exactly once.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		return true, nil
	case Open:
		if now.Sub(b.lastFailure) <= b.Reset {
			return false, &ErrOpen{Name: b.Name}
		}
		// Transition to HALF_OPEN and grant exactly one probe.
		b.state = HalfOpen
		b.probeInFlight = true
		return true, nil
	case HalfOpen:
		if b.probeInFlight {
			return false, &ErrOpen{Name: b.Name}
		}
		b.probeInFlight = true
		return true, nil
	default:
		return true, nil
	}
}

// Succeed records a successful call. In HALF_OPEN this resets the breaker
// to CLOSED and clears the failure count; in CLOSED it resets the failure
// count to zero (counts only track consecutive failures).
func (b *Breaker) Succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.consecutiveFails = 0
		b.probeInFlight = false
	case Closed:
		b.consecutiveFails = 0
	}
}

// Fail records a failed call.
func (b *Breaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.Threshold {
			b.state = Open
			b.lastFailure = now
		}
	case HalfOpen:
		b.state = Open
		b.lastFailure = now
		b.probeInFlight = false
	case Open:
		b.lastFailure = now
	}
}

// Snapshot describes the breaker's current observable state, used by the
// health prober and status logging.
type Snapshot struct {
	Name             string
	State            State
	ConsecutiveFails int
	LastFailure      time.Time
}

// Inspect returns a point-in-time snapshot of the breaker.
func (b *Breaker) Inspect() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:             b.Name,
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		LastFailure:      b.lastFailure,
	}
}

// Call is a convenience wrapper: it checks Allow, invokes fn if permitted,
// and records the outcome. It returns ErrOpen without invoking fn if the
// breaker rejects the call.
func (b *Breaker) Call(fn func() error) error {
	allowed, err := b.Allow()
	if !allowed {
		return err
	}
	callErr := fn()
	if callErr != nil {
		b.Fail()
		return callErr
	}
	b.Succeed()
	return nil
}
