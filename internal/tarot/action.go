package tarot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Wire names of the actions a reply may carry.
const (
	ActionDrawCard   = "drawCard"
	ActionRevealCard = "revealCard"
	ActionClearCards = "clearCards"
)

var (
	// ErrUnknownAction is returned by [ParseAction] for a name outside the
	// closed action set.
	ErrUnknownAction = errors.New("tarot: unknown action")

	// ErrInvalidArguments is returned by [ParseAction] when the JSON arguments
	// are malformed or violate the action's schema.
	ErrInvalidArguments = errors.New("tarot: invalid action arguments")
)

// Action is one structured instruction that mutates a [Spread]. The set of
// implementations is closed: [DrawCard], [RevealCard] and [ClearCards].
type Action interface {
	// Name returns the wire name of the action.
	Name() string

	// Arguments returns the JSON-encoded arguments in wire form.
	Arguments() string

	// Apply performs the action against s.
	Apply(s Spread) error

	action()
}

// DrawCard places a card face down. An empty Position lets the spread choose.
type DrawCard struct {
	CardName string   `json:"cardName"`
	Position Position `json:"position,omitempty"`
}

// RevealCard turns the card at the 0-based Index face up.
type RevealCard struct {
	Index int `json:"index"`
}

// ClearCards empties the spread.
type ClearCards struct{}

func (DrawCard) Name() string   { return ActionDrawCard }
func (RevealCard) Name() string { return ActionRevealCard }
func (ClearCards) Name() string { return ActionClearCards }

func (a DrawCard) Arguments() string   { return mustJSON(a) }
func (a RevealCard) Arguments() string { return mustJSON(a) }
func (ClearCards) Arguments() string   { return "{}" }

func (a DrawCard) Apply(s Spread) error   { return s.Draw(a.CardName, a.Position) }
func (a RevealCard) Apply(s Spread) error { return s.Reveal(a.Index) }
func (ClearCards) Apply(s Spread) error   { return s.Clear() }

func (DrawCard) action()   {}
func (RevealCard) action() {}
func (ClearCards) action() {}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only plain strings and ints are marshalled here.
		panic("tarot: marshal action arguments: " + err.Error())
	}
	return string(b)
}

// ParseAction converts a wire-form action call into the closed [Action] set.
// Card names must be exact; use [CanonicalCardName] beforehand to repair
// loosely spelled names.
func ParseAction(name, arguments string) (Action, error) {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	switch name {
	case ActionDrawCard:
		var args struct {
			CardName *string `json:"cardName"`
			Position string  `json:"position"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
		if args.CardName == nil {
			return nil, fmt.Errorf("%w: %s: cardName is required", ErrInvalidArguments, name)
		}
		if !IsValidCardName(*args.CardName) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCard, *args.CardName)
		}
		pos := Position(args.Position)
		if pos != "" && !pos.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPosition, args.Position)
		}
		return DrawCard{CardName: *args.CardName, Position: pos}, nil

	case ActionRevealCard:
		var args struct {
			Index *float64 `json:"index"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
		if args.Index == nil {
			return nil, fmt.Errorf("%w: %s: index is required", ErrInvalidArguments, name)
		}
		idx := *args.Index
		if idx != math.Trunc(idx) || idx < 0 || idx > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %s: index %v is not a non-negative integer", ErrInvalidArguments, name, idx)
		}
		return RevealCard{Index: int(idx)}, nil

	case ActionClearCards:
		var args map[string]any
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
		return ClearCards{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// Dispatch applies actions to s in order. A failing action does not stop
// the ones after it; the returned slice holds one error per failure, each
// naming the action's position.
func Dispatch(s Spread, actions []Action) []error {
	var errs []error
	for i, a := range actions {
		if err := a.Apply(s); err != nil {
			errs = append(errs, fmt.Errorf("tarot: action %d (%s): %w", i, a.Name(), err))
		}
	}
	return errs
}
