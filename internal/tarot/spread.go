package tarot

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

var (
	// ErrUnknownCard is returned for a card name outside the major arcana.
	ErrUnknownCard = errors.New("tarot: unknown card")

	// ErrInvalidPosition is returned for an orientation other than upright or reversed.
	ErrInvalidPosition = errors.New("tarot: invalid position")

	// ErrIndexOutOfRange is returned when revealing a card that was never drawn.
	ErrIndexOutOfRange = errors.New("tarot: card index out of range")
)

// Position is the orientation of a drawn card.
type Position string

const (
	Upright  Position = "upright"
	Reversed Position = "reversed"
)

// IsValid reports whether p is upright or reversed.
func (p Position) IsValid() bool {
	return p == Upright || p == Reversed
}

// DrawnCard is one slot of a spread.
type DrawnCard struct {
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Revealed bool     `json:"revealed"`
}

// Spread is the card layout the avatar UI renders. Implementations own the
// state; callers only mutate it through these methods.
type Spread interface {
	// Draw appends a face-down card. An empty position lets the spread choose.
	Draw(name string, pos Position) error

	// Reveal turns the card at the 0-based index face up.
	Reveal(index int) error

	// Clear removes every card.
	Clear() error
}

// MemorySpread is an in-process [Spread]. It is safe for concurrent use.
type MemorySpread struct {
	mu     sync.Mutex
	cards  []DrawnCard
	orient func() Position
}

// NewMemorySpread returns an empty spread. Cards drawn without a position are
// oriented at random, upright or reversed with equal probability.
func NewMemorySpread() *MemorySpread {
	return &MemorySpread{orient: randomPosition}
}

func randomPosition() Position {
	if rand.IntN(2) == 0 {
		return Upright
	}
	return Reversed
}

// Draw implements [Spread].
func (s *MemorySpread) Draw(name string, pos Position) error {
	if !IsValidCardName(name) {
		return fmt.Errorf("%w: %q", ErrUnknownCard, name)
	}
	if pos == "" {
		pos = s.orient()
	}
	if !pos.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPosition, pos)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, DrawnCard{Name: name, Position: pos})
	return nil
}

// Reveal implements [Spread].
func (s *MemorySpread) Reveal(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.cards) {
		return fmt.Errorf("%w: %d (spread has %d cards)", ErrIndexOutOfRange, index, len(s.cards))
	}
	s.cards[index].Revealed = true
	return nil
}

// Clear implements [Spread].
func (s *MemorySpread) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = nil
	return nil
}

// Cards returns a snapshot of the spread in draw order.
func (s *MemorySpread) Cards() []DrawnCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DrawnCard, len(s.cards))
	copy(out, s.cards)
	return out
}
