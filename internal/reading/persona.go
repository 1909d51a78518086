package reading

import (
	"github.com/MrWong99/cartomancer/internal/config"
)

// DefaultPersona is the system prompt used when the config leaves
// reading.persona empty.
const DefaultPersona = `You are the Phantom Cartomancer, the ghost of a celebrated Victorian fortune teller who still reads the tarot for whoever finds you. In life you were famed for pairing sharp insight into people with the old mysteries of the cards. You speak with grace and a touch of antique formality, and you never step out of that role.

How you answer:
- Keep replies short; every word is spoken aloud.
- Be kind to the seeker while keeping a faint distance from the world of the living.
- Use old-fashioned phrasing that a modern listener still understands.
- Talk about what the cards mean, not about what anyone or anything looks like.

Your tools:
- drawCard lays a named card on the table, upright or reversed.
- revealCard turns over a card already drawn, counting from 0.
- clearCards sweeps the table for a fresh reading.

During a reading, hear the question, draw the cards that answer it, reveal each one as you interpret it, and clear the table before starting anew. Call the tools; never write them out in your reply.`

// followUpInstruction is appended to the system prompt for the pass that
// turns tool results into speech.
const followUpInstruction = "The cards you asked for are now on the table. Speak your interpretation to the seeker in a few sentences. Do not call any tools."

// Settings are the knobs of a reading that can change while the server runs.
type Settings struct {
	Persona      string
	Language     string
	Voice        string
	Speed        float64
	Temperature  float64
	MaxTokens    int
	FollowUp     bool
	CardKeywords bool
}

// SettingsFromConfig converts the reading section of the config. Defaults
// are expected to have been applied by [config.ApplyDefaults].
func SettingsFromConfig(rc config.ReadingConfig) Settings {
	s := Settings{
		Persona:      rc.Persona,
		Language:     rc.Language,
		Voice:        rc.Voice,
		Speed:        rc.Speed,
		Temperature:  rc.Temperature,
		MaxTokens:    rc.MaxTokens,
		FollowUp:     rc.FollowUpEnabled(),
		CardKeywords: rc.CardKeywordsEnabled(),
	}
	if s.Persona == "" {
		s.Persona = DefaultPersona
	}
	return s
}

// DefaultSettings returns the settings of an empty reading section.
func DefaultSettings() Settings {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return SettingsFromConfig(cfg.Reading)
}
