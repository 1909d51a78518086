package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// BreakerSet hands out one [CircuitBreaker] per provider name and keeps it for
// the life of the process. It is safe for concurrent use.
type BreakerSet struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet returns an empty set whose breakers are built from cfg.
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *BreakerSet) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cfg := s.cfg
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	s.breakers[name] = cb
	return cb
}

// States snapshots the current state of every breaker handed out so far.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	bs := maps.Clone(s.breakers)
	s.mu.Unlock()

	out := make(map[string]State, len(bs))
	for name, cb := range bs {
		out[name] = cb.State()
	}
	return out
}

// FallbackConfig configures the circuit breakers used by a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Breakers, when set, supplies the breakers so their state survives the
	// group. When nil the group creates a private set from CircuitBreaker.
	Breakers *BreakerSet

	// Classify, when set, rewrites every error an entry returns before the
	// breaker sees it. Use it to mark caller-side failures [Permanent].
	Classify func(error) error
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order. Errors marked with
// [Permanent] and context cancellation end the walk immediately since no other
// provider would fare better.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries  []fallbackEntry[T]
	breakers *BreakerSet
	classify func(error) error
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	bs := cfg.Breakers
	if bs == nil {
		bs = NewBreakerSet(cfg.CircuitBreaker)
	}
	fg := &FallbackGroup[T]{breakers: bs, classify: cfg.Classify}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: fg.breakers.Get(name),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			if innerErr != nil && fg.classify != nil {
				innerErr = fg.classify(innerErr)
			}
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
