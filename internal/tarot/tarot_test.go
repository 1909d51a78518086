package tarot

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMajorArcana(t *testing.T) {
	if len(MajorArcana) != 22 {
		t.Fatalf("deck has %d cards, want 22", len(MajorArcana))
	}
	seen := map[string]bool{}
	for _, c := range MajorArcana {
		if seen[c.Name] {
			t.Errorf("duplicate card %q", c.Name)
		}
		seen[c.Name] = true
		if c.Description == "" || c.Image == "" {
			t.Errorf("card %q lacks description or image", c.Name)
		}
	}
	if got := CardNames(); got[0] != "The Fool" || got[21] != "The World" {
		t.Errorf("CardNames order wrong: first %q last %q", got[0], got[21])
	}
}

func TestIsValidCardName(t *testing.T) {
	for _, name := range []string{"The Star", "Death", "Wheel of Fortune", "Judgement"} {
		if !IsValidCardName(name) {
			t.Errorf("IsValidCardName(%q) = false", name)
		}
	}
	for _, name := range []string{"the star", "Judgment", "The Joker", ""} {
		if IsValidCardName(name) {
			t.Errorf("IsValidCardName(%q) = true", name)
		}
	}
}

func TestCanonicalCardName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"The Star", "The Star", true},
		{"the star", "The Star", true},
		{"  THE MOON ", "The Moon", true},
		{"Judgment", "Judgement", true},
		{"the hanged men", "The Hanged Man", true},
		{"Wheel of Fortunes", "Wheel of Fortune", true},
		{"The Joker", "The Joker", false},
		{"pizza", "pizza", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalCardName(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CanonicalCardName(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func fixedSpread(pos Position) *MemorySpread {
	s := NewMemorySpread()
	s.orient = func() Position { return pos }
	return s
}

func TestMemorySpread_DrawRevealClear(t *testing.T) {
	s := fixedSpread(Reversed)

	if err := s.Draw("The Star", ""); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if err := s.Draw("Death", Upright); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	cards := s.Cards()
	want := []DrawnCard{
		{Name: "The Star", Position: Reversed},
		{Name: "Death", Position: Upright},
	}
	if len(cards) != len(want) {
		t.Fatalf("got %d cards, want %d", len(cards), len(want))
	}
	for i := range want {
		if cards[i] != want[i] {
			t.Errorf("card %d = %+v, want %+v", i, cards[i], want[i])
		}
	}

	if err := s.Reveal(1); err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if !s.Cards()[1].Revealed || s.Cards()[0].Revealed {
		t.Error("Reveal(1) must reveal exactly the second card")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n := len(s.Cards()); n != 0 {
		t.Errorf("after Clear got %d cards", n)
	}
}

func TestMemorySpread_Errors(t *testing.T) {
	s := NewMemorySpread()
	if err := s.Draw("The Joker", Upright); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Draw unknown card: got %v, want ErrUnknownCard", err)
	}
	if err := s.Draw("The Sun", "sideways"); !errors.Is(err, ErrInvalidPosition) {
		t.Errorf("Draw bad position: got %v, want ErrInvalidPosition", err)
	}
	if len(s.Cards()) != 0 {
		t.Error("failed draws must not mutate the spread")
	}
	if err := s.Reveal(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Reveal on empty spread: got %v", err)
	}
	if err := s.Reveal(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Reveal(-1): got %v", err)
	}
}

func TestMemorySpread_RandomOrientationIsValid(t *testing.T) {
	s := NewMemorySpread()
	for range 50 {
		if err := s.Draw("The Fool", ""); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range s.Cards() {
		if !c.Position.IsValid() {
			t.Fatalf("random orientation %q is invalid", c.Position)
		}
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		args    string
		want    Action
		wantErr error
	}{
		{"draw with position", ActionDrawCard, `{"cardName":"The Star","position":"upright"}`, DrawCard{CardName: "The Star", Position: Upright}, nil},
		{"draw without position", ActionDrawCard, `{"cardName":"Death"}`, DrawCard{CardName: "Death"}, nil},
		{"draw unknown card", ActionDrawCard, `{"cardName":"The Joker"}`, nil, ErrUnknownCard},
		{"draw loose name is strict", ActionDrawCard, `{"cardName":"the star"}`, nil, ErrUnknownCard},
		{"draw missing name", ActionDrawCard, `{}`, nil, ErrInvalidArguments},
		{"draw bad position", ActionDrawCard, `{"cardName":"Death","position":"sideways"}`, nil, ErrInvalidPosition},
		{"draw malformed json", ActionDrawCard, `{"cardName":`, nil, ErrInvalidArguments},
		{"reveal", ActionRevealCard, `{"index":2}`, RevealCard{Index: 2}, nil},
		{"reveal float integral", ActionRevealCard, `{"index":1.0}`, RevealCard{Index: 1}, nil},
		{"reveal fractional", ActionRevealCard, `{"index":1.5}`, nil, ErrInvalidArguments},
		{"reveal negative", ActionRevealCard, `{"index":-1}`, nil, ErrInvalidArguments},
		{"reveal missing", ActionRevealCard, `{}`, nil, ErrInvalidArguments},
		{"clear", ActionClearCards, `{}`, ClearCards{}, nil},
		{"clear empty args", ActionClearCards, ``, ClearCards{}, nil},
		{"unknown", "shuffleDeck", `{}`, nil, ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.action, tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAction_Arguments(t *testing.T) {
	for _, a := range []Action{
		DrawCard{CardName: "The Lovers", Position: Reversed},
		DrawCard{CardName: "Strength"},
		RevealCard{Index: 3},
		ClearCards{},
	} {
		if !json.Valid([]byte(a.Arguments())) {
			t.Errorf("%s arguments not valid JSON: %s", a.Name(), a.Arguments())
		}
		back, err := ParseAction(a.Name(), a.Arguments())
		if err != nil {
			t.Errorf("reparse %s: %v", a.Name(), err)
			continue
		}
		if back != a {
			t.Errorf("reparse %s = %#v, want %#v", a.Name(), back, a)
		}
	}
}

func TestDispatch(t *testing.T) {
	s := fixedSpread(Upright)
	errs := Dispatch(s, []Action{
		DrawCard{CardName: "The Tower"},
		RevealCard{Index: 5},
		DrawCard{CardName: "The Sun", Position: Reversed},
		RevealCard{Index: 0},
	})
	if len(errs) != 1 || !errors.Is(errs[0], ErrIndexOutOfRange) {
		t.Fatalf("errs = %v, want one ErrIndexOutOfRange", errs)
	}
	cards := s.Cards()
	if len(cards) != 2 || !cards[0].Revealed || cards[1].Revealed {
		t.Errorf("unexpected spread after dispatch: %+v", cards)
	}
}

func TestToolDefinitions(t *testing.T) {
	defs := ToolDefinitions()
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		if d.Parameters["type"] != "object" {
			t.Errorf("%s schema type = %v", d.Name, d.Parameters["type"])
		}
	}
	for _, n := range []string{ActionDrawCard, ActionRevealCard, ActionClearCards} {
		if !names[n] {
			t.Errorf("missing tool %q", n)
		}
	}
	props := defs[0].Parameters["properties"].(map[string]any)
	enum := props["cardName"].(map[string]any)["enum"].([]string)
	if len(enum) != 22 {
		t.Errorf("cardName enum has %d entries, want 22", len(enum))
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(DrawCard{CardName: "The Sun", Position: Upright})
	if got != "Drew The Sun (Positivity, fun, warmth, success, vitality), upright." {
		t.Errorf("Describe draw = %q", got)
	}
	if got := Describe(RevealCard{Index: 2}); got != "Revealed the card at position 2." {
		t.Errorf("Describe reveal = %q", got)
	}
}
