// Package resilience provides the circuit breaker that guards best-effort
// outbound calls, primarily the Active911 alert enrichment path. When the
// alert API fails repeatedly the breaker opens and enrichment is skipped
// entirely for a cool-down period, so a dead upstream cannot add its full
// timeout to every processed recording.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] when the breaker is open and the
// cool-down has not yet elapsed. Callers treat it like any other failure of
// the guarded call, except that the call was never made.
var ErrOpen = errors.New("breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cool-down elapses.
	StateOpen

	// StateHalfOpen allows a single probe call. Success closes the breaker,
	// failure re-opens it.
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

// Breaker is a three-state circuit breaker (closed → open → half-open) with
// a single-probe half-open state.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	now         func() time.Time
	ignore      func(error) bool

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Option configures a [Breaker].
type Option func(*Breaker)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithIgnore installs a classifier for errors that say nothing about the
// upstream's health (configuration problems, validation failures). An
// ignored error is returned to the caller but counts as neither failure nor
// success, so it can never open the breaker.
func WithIgnore(fn func(error) bool) Option {
	return func(b *Breaker) {
		b.ignore = fn
	}
}

// New creates a [Breaker] named name for log messages. It opens after
// maxFailures consecutive failures and stays open for coolDown before
// allowing a probe. Non-positive arguments fall back to 3 failures and 30s.
func New(name string, maxFailures int, coolDown time.Duration, opts ...Option) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		coolDown:    coolDown,
		now:         time.Now,
		state:       StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrOpen] without calling fn. After the cool-down a single probe call is
// let through; its outcome decides whether the breaker closes or re-opens.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = false
		slog.Info("breaker transitioning to half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	probe := b.state == StateHalfOpen
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.recordSuccess(probe)
	case b.ignore != nil && b.ignore(err):
		// Says nothing about upstream health. Release the probe slot so a
		// later call can still test the connection.
		b.probing = false
	default:
		b.recordFailure(probe)
	}
	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probe bool) {
	if probe {
		b.state = StateOpen
		b.openedAt = b.now()
		b.failures = b.maxFailures
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probe bool) {
	if probe {
		slog.Info("breaker closed after successful probe", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// State reports the breaker's current state. An open breaker whose cool-down
// has elapsed reports [StateHalfOpen]; the actual transition happens on the
// next [Breaker.Execute] call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}
