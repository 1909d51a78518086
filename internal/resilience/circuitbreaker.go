// Package resilience provides circuit breaker and provider failover primitives
// for the reading pipeline's STT, LLM and TTS stages.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that protects callers from cascading failures.
// [FallbackGroup] composes multiple instances of any provider type with per-entry
// circuit breakers so that a failing primary is automatically bypassed in favour
// of healthy fallbacks. Providers are often built per request (they carry the
// caller's credential), so breakers live in a [BreakerSet] that outlives any
// single group.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker closes,
	// otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks, normally
	// the provider label ("openai/whisper-1").
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open, and
	// the number of successes that close the breaker again. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error returned by the wrapped call counts
	// against the breaker. Errors it rejects (a bad credential, a malformed
	// request, a cancelled context) pass through without changing state.
	// Default: [DefaultIsFailure].
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every transition. It runs
	// outside the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: [time.Now].
	Now func() time.Time
}

// DefaultIsFailure counts every error except context cancellation and
// errors marked with [Permanent].
func DefaultIsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}

// permanentError marks an error caused by the caller rather than the backend.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as caused by the request itself. Breakers using
// [DefaultIsFailure] ignore it and [FallbackGroup] stops at it instead of
// trying the next provider. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with [Permanent].
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// transition is a state change waiting to be reported.
type transition struct {
	from, to State
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax probes are in flight or counted at once.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var changes []transition
	if cb.state == StateOpen && cb.cooledDown() {
		changes = append(changes, cb.moveTo(StateHalfOpen))
	}
	if cb.state == StateOpen || (cb.state == StateHalfOpen && cb.probes >= cb.cfg.HalfOpenMax) {
		cb.mu.Unlock()
		cb.report(changes)
		return ErrCircuitOpen
	}
	probing := cb.state == StateHalfOpen
	if probing {
		cb.probes++
	}
	cb.mu.Unlock()
	cb.report(changes)

	err := fn()

	cb.mu.Lock()
	changes = changes[:0]
	switch {
	case err == nil && probing:
		cb.probeSuccesses++
		if cb.state == StateHalfOpen && cb.probeSuccesses >= cb.cfg.HalfOpenMax {
			changes = append(changes, cb.moveTo(StateClosed))
		}
	case err == nil:
		cb.consecutiveFail = 0
	case cb.cfg.IsFailure(err):
		cb.openedAt = cb.cfg.Now()
		switch {
		case probing && cb.state == StateHalfOpen:
			changes = append(changes, cb.moveTo(StateOpen))
		case cb.state == StateClosed:
			cb.consecutiveFail++
			if cb.consecutiveFail >= cb.cfg.MaxFailures {
				changes = append(changes, cb.moveTo(StateOpen))
			}
		}
	case probing:
		// Neutral outcome; hand the probe slot back.
		cb.probes--
	}
	cb.mu.Unlock()
	cb.report(changes)
	return err
}

// Name returns the label the breaker was configured with.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// cooledDown reports whether an open breaker may probe again. Must be called
// with cb.mu held.
func (cb *CircuitBreaker) cooledDown() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// moveTo switches state and clears the counters of the new state. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) moveTo(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	cb.probes, cb.probeSuccesses = 0, 0
	if to == StateClosed {
		cb.consecutiveFail = 0
	}
	return t
}

// report logs transitions and forwards them to OnStateChange.
func (cb *CircuitBreaker) report(changes []transition) {
	for _, t := range changes {
		level := slog.LevelInfo
		if t.to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", cb.cfg.Name, "from", t.from, "to", t.to)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// State returns the current [State] of the breaker. An open breaker whose
// reset timeout has elapsed reports [StateHalfOpen]; the transition itself
// happens on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changes []transition
	if cb.state != StateClosed {
		changes = append(changes, cb.moveTo(StateClosed))
	}
	cb.consecutiveFail = 0
	cb.mu.Unlock()
	cb.report(changes)
}
