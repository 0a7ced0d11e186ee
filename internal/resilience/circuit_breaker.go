// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards calls into a resource type's plugin
// (OnStart, OnEnd, BeforeEnd) with a
// sliding-window circuit breaker, so a misbehaving plugin backend
// trips open instead of being hammered by every due event that
// targets its resource type.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/resmgr/leasecore/internal/metrics"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute when the breaker is open and
// resetTimeout has not yet elapsed. In HALF_OPEN every call is let
// through as a probe.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// callOutcome tags one plugin-call attempt recorded in the sliding window.
type callOutcome int

const (
	outcomeAttempt callOutcome = iota
	outcomeSuccess
	outcomeFailure
)

type record struct {
	at   time.Time
	kind callOutcome
}

// clock abstracts time.Now for deterministic tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker tracks one resource type's plugin-call history over a
// sliding window and trips open once failures outnumber a threshold
// within that window, closing again after resetTimeout and a run of
// successful half-open probes.
type CircuitBreaker struct {
	mu sync.Mutex

	name string

	state    State
	openedAt time.Time

	history []record
	window  time.Duration

	failureThreshold int // failures within window that trip the breaker
	minAttempts      int // attempts required before a trip is even considered
	halfOpenSuccess  int // consecutive half-open successes seen so far
	closeThreshold   int // half-open successes required to close
	resetTimeout     time.Duration

	clock         clock
	recoverPanics bool
}

// Option configures a CircuitBreaker at construction time.
type Option func(*CircuitBreaker)

// WithClock overrides the breaker's time source; tests use a fake
// clock to drive reset-timeout and window-expiry transitions directly.
func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithHalfOpenSuccessThreshold sets how many consecutive successful
// probe calls in HALF_OPEN close the breaker. Default 3.
func WithHalfOpenSuccessThreshold(n int) Option {
	return func(cb *CircuitBreaker) { cb.closeThreshold = n }
}

// WithPanicRecovery, if enabled, recovers a panicking plugin call,
// records it as a failure, and re-panics rather than letting it
// unwind straight through Execute.
func WithPanicRecovery(enabled bool) Option {
	return func(cb *CircuitBreaker) { cb.recoverPanics = enabled }
}

// NewCircuitBreaker constructs a breaker named for the resource type
// it guards. threshold failures within window (after at least
// minAttempts attempts) trip it open; resetTimeout is the open-state
// cooldown before a half-open probe is allowed through.
func NewCircuitBreaker(name string, threshold int, minAttempts int, window time.Duration, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if minAttempts <= 0 {
		minAttempts = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: threshold,
		minAttempts:      minAttempts,
		window:           window,
		resetTimeout:     resetTimeout,
		closeThreshold:   3,
		clock:            realClock{},
	}

	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetCircuitBreakerState(cb.name, int(cb.state))
	return cb
}

// Execute runs fn if the breaker currently allows a call, recording
// the outcome and applying the resulting state transition. With
// WithPanicRecovery enabled, a panicking fn is recorded as a failure
// and then re-panicked rather than left to unwind past the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	if cb.recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				cb.record(outcomeFailure)
				panic(r)
			}
		}()
	}

	if err := fn(); err != nil {
		cb.record(outcomeFailure)
		return err
	}
	cb.record(outcomeSuccess)
	return nil
}

// admit decides whether a call may proceed, transitioning OPEN ->
// HALF_OPEN once resetTimeout has elapsed, and records the attempt
// for any call it lets through.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.prune()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
	case StateClosed, StateHalfOpen:
		// fall through to record the attempt below
	}

	cb.history = append(cb.history, record{at: cb.clock.Now(), kind: outcomeAttempt})
	return true
}

// record applies a plugin-call outcome under lock, updating the
// sliding window and any resulting state transition.
func (cb *CircuitBreaker) record(kind callOutcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.history = append(cb.history, record{at: cb.clock.Now(), kind: kind})
	cb.prune()

	switch cb.state {
	case StateHalfOpen:
		if kind == outcomeFailure {
			cb.transitionTo(StateOpen)
			return
		}
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.closeThreshold {
			cb.transitionTo(StateClosed)
		}
	case StateClosed:
		if kind == outcomeFailure && cb.tripped() {
			cb.transitionTo(StateOpen)
		}
	}
}

// tripped reports whether the current window holds enough attempts
// and failures to trip the breaker from CLOSED.
func (cb *CircuitBreaker) tripped() bool {
	var attempts, failures int
	for _, r := range cb.history {
		switch r.kind {
		case outcomeAttempt:
			attempts++
		case outcomeFailure:
			failures++
		}
	}
	return attempts >= cb.minAttempts && failures >= cb.failureThreshold
}

// prune drops history entries that have aged out of the window.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) prune() {
	cutoff := cb.clock.Now().Add(-cb.window)
	for i, r := range cb.history {
		if !r.at.Before(cutoff) {
			cb.history = cb.history[i:]
			return
		}
	}
	cb.history = nil
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(s State) {
	if cb.state == s {
		return
	}

	cb.state = s
	switch s {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		metrics.RecordCircuitBreakerTrip(cb.name, "failure_threshold_exceeded")
	case StateHalfOpen:
		cb.halfOpenSuccess = 0
	case StateClosed:
		cb.history = nil
	}

	metrics.SetCircuitBreakerState(cb.name, int(s))
}

// GetState returns the breaker's current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
