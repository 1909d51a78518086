// Package tarot models the reading domain: the 22 major arcana, the spread
// of drawn cards, and the closed set of actions a reply may carry to mutate
// that spread.
package tarot

import (
	"strings"
	"sync"

	"github.com/MrWong99/cartomancer/internal/tarot/phonetic"
)

// Card is one major-arcana card.
type Card struct {
	Name        string
	Description string
	Image       string
}

// MajorArcana lists the deck in traditional order.
var MajorArcana = []Card{
	{"The Fool", "New beginnings, innocence, spontaneity, free spirit", "/cards/major/the-fool.png"},
	{"The Magician", "Manifestation, resourcefulness, power, inspired action", "/cards/major/the-magician.png"},
	{"The High Priestess", "Intuition, sacred knowledge, divine feminine, the subconscious mind", "/cards/major/the-high-priestess.png"},
	{"The Empress", "Femininity, beauty, nature, nurturing, abundance", "/cards/major/the-empress.png"},
	{"The Emperor", "Authority, establishment, structure, a father figure", "/cards/major/the-emperor.png"},
	{"The Hierophant", "Spiritual wisdom, religious beliefs, conformity, tradition", "/cards/major/the-hierophant.png"},
	{"The Lovers", "Love, harmony, relationships, values alignment, choices", "/cards/major/the-lovers.png"},
	{"The Chariot", "Control, willpower, success, ambition, determination", "/cards/major/the-chariot.png"},
	{"Strength", "Inner strength, bravery, compassion, focus, persuasion", "/cards/major/strength.png"},
	{"The Hermit", "Soul-searching, introspection, being alone, inner guidance", "/cards/major/the-hermit.png"},
	{"Wheel of Fortune", "Good luck, karma, life cycles, destiny, a turning point", "/cards/major/wheel-of-fortune.png"},
	{"Justice", "Justice, fairness, truth, cause and effect, law", "/cards/major/justice.png"},
	{"The Hanged Man", "Surrender, letting go, new perspectives, sacrifice", "/cards/major/the-hanged-man.png"},
	{"Death", "Endings, change, transformation, transition", "/cards/major/death.png"},
	{"Temperance", "Balance, moderation, patience, purpose, meaning", "/cards/major/temperance.png"},
	{"The Devil", "Shadow self, attachment, addiction, restriction, sexuality", "/cards/major/the-devil.png"},
	{"The Tower", "Sudden change, upheaval, chaos, revelation, awakening", "/cards/major/the-tower.png"},
	{"The Star", "Hope, faith, purpose, renewal, spirituality", "/cards/major/the-star.png"},
	{"The Moon", "Illusion, fear, anxiety, subconscious, intuition", "/cards/major/the-moon.png"},
	{"The Sun", "Positivity, fun, warmth, success, vitality", "/cards/major/the-sun.png"},
	{"Judgement", "Judgement, rebirth, inner calling, absolution", "/cards/major/judgement.png"},
	{"The World", "Completion, integration, accomplishment, travel", "/cards/major/the-world.png"},
}

var byName = func() map[string]Card {
	m := make(map[string]Card, len(MajorArcana))
	for _, c := range MajorArcana {
		m[c.Name] = c
	}
	return m
}()

// Lookup returns the card with exactly the given name.
func Lookup(name string) (Card, bool) {
	c, ok := byName[name]
	return c, ok
}

// IsValidCardName reports whether name is exactly one of the 22 card names.
func IsValidCardName(name string) bool {
	_, ok := byName[name]
	return ok
}

// CardNames returns the card names in deck order.
func CardNames() []string {
	names := make([]string, len(MajorArcana))
	for i, c := range MajorArcana {
		names[i] = c.Name
	}
	return names
}

var (
	matcherOnce sync.Once
	matcher     *phonetic.Matcher
)

// CanonicalCardName resolves a loosely written card name ("the star",
// "Judgment", "hanged men") to its canonical spelling. Exact and
// case-insensitive matches win; otherwise the phonetic matcher decides.
func CanonicalCardName(name string) (string, bool) {
	if IsValidCardName(name) {
		return name, true
	}
	trimmed := strings.TrimSpace(name)
	for _, c := range MajorArcana {
		if strings.EqualFold(c.Name, trimmed) {
			return c.Name, true
		}
	}
	matcherOnce.Do(func() {
		matcher = phonetic.New(CardNames())
	})
	if corrected, _, ok := matcher.Match(trimmed); ok {
		return corrected, true
	}
	return name, false
}
