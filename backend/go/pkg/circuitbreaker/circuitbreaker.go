// Package circuitbreaker tracks the health of a single downstream dependency
// (an LLM provider, the classifier service) and short-circuits calls while it
// is known to be failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where requests are allowed.
	Closed State = iota
	// Open state is when the circuit has tripped and requests are blocked.
	Open
	// HalfOpen allows trial requests to test the dependency's recovery.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker.
type Settings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures that trip the circuit
	SuccessThreshold uint32        // consecutive half-open successes that close it
	Timeout          time.Duration // time spent Open before moving to HalfOpen
	// IsFailure decides whether an error counts against the dependency.
	// nil means every non-nil error counts.
	IsFailure func(error) bool
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to State)
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Counts is a snapshot of a breaker's bookkeeping.
type Counts struct {
	Requests             uint64
	TotalFailures        uint64
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	settings Settings

	mutex    sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	lastErr  string
}

// New creates a Breaker with the given settings.
func New(s Settings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 1
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{settings: s, state: Closed}
}

// Name returns the dependency name this breaker guards.
func (cb *Breaker) Name() string { return cb.settings.Name }

// State returns the current state, applying the Open to HalfOpen timeout.
func (cb *Breaker) State() State {
	cb.mutex.Lock()
	from, to := cb.advance()
	st := cb.state
	cb.mutex.Unlock()
	cb.notify(from, to)
	return st
}

// Counts returns a copy of the current counters.
func (cb *Breaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.counts
}

// LastError returns the message of the most recent counted failure.
func (cb *Breaker) LastError() string {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.lastErr
}

// Execute runs req unless the circuit is Open, and records the outcome.
func (cb *Breaker) Execute(req func() error) error {
	cb.mutex.Lock()
	from, to := cb.advance()
	if cb.state == Open {
		cb.mutex.Unlock()
		cb.notify(from, to)
		return ErrCircuitOpen
	}
	cb.counts.Requests++
	cb.mutex.Unlock()
	cb.notify(from, to)

	err := req()
	cb.Record(err)
	return err
}

// Record feeds an externally observed outcome into the breaker.
func (cb *Breaker) Record(err error) {
	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	cb.mutex.Lock()
	var from, to State
	if failed {
		from, to = cb.onFailure(err)
	} else {
		from, to = cb.onSuccess()
	}
	cb.mutex.Unlock()
	cb.notify(from, to)
}

// Reset forces the breaker back to Closed.
func (cb *Breaker) Reset() {
	cb.mutex.Lock()
	from := cb.state
	cb.setState(Closed)
	cb.mutex.Unlock()
	cb.notify(from, Closed)
}

// advance moves Open to HalfOpen once the timeout elapses. Caller holds the lock.
func (cb *Breaker) advance() (State, State) {
	if cb.state == Open && cb.settings.Now().Sub(cb.openedAt) >= cb.settings.Timeout {
		cb.setState(HalfOpen)
		return Open, HalfOpen
	}
	return cb.state, cb.state
}

func (cb *Breaker) onSuccess() (State, State) {
	from := cb.state
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses++
	if cb.state == HalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.SuccessThreshold {
		cb.setState(Closed)
	}
	return from, cb.state
}

func (cb *Breaker) onFailure(err error) (State, State) {
	from := cb.state
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures++
	cb.lastErr = err.Error()
	switch cb.state {
	case HalfOpen:
		cb.setState(Open)
	case Closed:
		if cb.counts.ConsecutiveFailures >= cb.settings.FailureThreshold {
			cb.setState(Open)
		}
	}
	return from, cb.state
}

func (cb *Breaker) setState(s State) {
	if s == Open {
		cb.openedAt = cb.settings.Now()
	}
	if s != cb.state {
		cb.counts.ConsecutiveFailures = 0
		cb.counts.ConsecutiveSuccesses = 0
	}
	cb.state = s
}

func (cb *Breaker) notify(from, to State) {
	if from != to && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}
