// Package circuitbreaker bounds the latency cost of a dead dependency. The
// failover core keeps working while its record store is unreachable, but
// every store call would otherwise wait out a full network timeout; the
// breaker turns that into an instant rejection until a trial call succeeds.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NuxGame/dbfailover/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; limited calls allowed to test recovery.
)

// String returns a human-readable state name.
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

// Config tunes a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open trial call.
	ResetTimeout time.Duration

	// HalfOpenSuccesses is the number of consecutive successful trial
	// calls required to close the breaker again.
	HalfOpenSuccesses int
}

// DefaultConfig returns the tuning used for the record store guard.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

// Breaker is a consecutive-failure circuit breaker. It opens after
// FailureThreshold failures in a row, rejects calls for ResetTimeout, then
// admits trial calls until HalfOpenSuccesses of them succeed or one fails.
type Breaker struct {
	mu sync.Mutex

	state     State
	component string
	cfg       Config
	logger    *slog.Logger

	failures        int
	halfOpenSuccess int
	openedAt        time.Time
}

// New creates a Breaker named for the dependency it guards.
func New(component string, cfg Config, logger *slog.Logger) *Breaker {
	return &Breaker{
		state:     StateClosed,
		component: component,
		cfg:       cfg,
		logger:    logger,
	}
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout has elapsed moves to half-open and admits the call as a trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenSuccesses {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.BreakerTransitions.WithLabelValues(b.component, from.String(), newState.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.component).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"component", b.component,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.failures = 0
		b.halfOpenSuccess = 0
	case StateOpen:
		b.openedAt = time.Now()
		b.halfOpenSuccess = 0
	case StateHalfOpen:
		b.halfOpenSuccess = 0
	}
}
