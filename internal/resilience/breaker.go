// Package resilience guards calls to the proposal source.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

var stateNames = [...]string{stateClosed: "closed", stateOpen: "open", stateHalfOpen: "half_open"}

func (s state) String() string { return stateNames[s] }

// Breaker trips after maxFailures consecutive failures and rejects calls for
// cooldown. After the cooldown a single probe is let through; its outcome
// closes or reopens the circuit. A call that fails with context.Canceled
// is neither a success nor a failure, since the caller gave up.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns an unnamed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return NewNamedBreaker("", maxFailures, cooldown)
}

// NewNamedBreaker returns a breaker whose state changes are logged under name.
func NewNamedBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{name: name, maxFailures: max(maxFailures, 1), cooldown: cooldown, now: time.Now}
}

// Execute calls fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(probe, err)
	return err
}

// admit reports whether a call may proceed and whether it is the half-open probe.
func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = stateHalfOpen
	}
	switch b.state {
	case stateClosed:
		return false, true
	case stateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return false, false
	}
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err == nil:
		if b.state != stateClosed {
			slog.Info("circuit breaker closed", "breaker", b.name)
		}
		b.state, b.failures = stateClosed, 0
	default:
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			if b.state != stateOpen {
				slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures, "error", err)
			}
			b.state, b.openedAt = stateOpen, b.now()
		}
	}
}

// State returns "closed", "open" or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
