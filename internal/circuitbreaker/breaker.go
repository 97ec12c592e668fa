// Package circuitbreaker stops the publisher from hammering a webhook
// destination that keeps failing with retryable errors.
//
// Each destination key moves closed -> open after Threshold consecutive
// failures. After Cooldown one trial request is let through (half-open); its result
// closes or re-opens the circuit.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type destination struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	dests     map[string]*destination
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		dests:     make(map[string]*destination),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock overrides the time source used for the cooldown.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow reports whether a call to key may proceed.
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d, ok := cb.dests[key]
	if !ok {
		return nil
	}

	switch d.state {
	case StateOpen:
		if cb.clock().Sub(d.openedAt) >= cb.cooldown {
			d.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if d, ok := cb.dests[key]; ok {
		d.state = StateClosed
		d.consecutiveFailures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d, ok := cb.dests[key]
	if !ok {
		d = &destination{state: StateClosed}
		cb.dests[key] = d
	}

	d.consecutiveFailures++
	if d.state == StateHalfOpen || d.consecutiveFailures >= cb.threshold {
		d.state = StateOpen
		d.openedAt = cb.clock()
	}
}

// State returns the current state for key without changing it.
func (cb *CircuitBreaker) State(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if d, ok := cb.dests[key]; ok {
		return d.state
	}
	return StateClosed
}
