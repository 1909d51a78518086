package tarot

import (
	"strconv"

	"github.com/MrWong99/cartomancer/pkg/provider/llm"
)

// ToolDefinitions returns the function schemas offered to the language model
// so it can manipulate the spread while it speaks.
func ToolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ActionDrawCard,
			Description: "Draw a new tarot card from the deck",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cardName": map[string]any{
						"type":        "string",
						"enum":        CardNames(),
						"description": "The name of the tarot card to draw",
					},
					"position": map[string]any{
						"type":        "string",
						"enum":        []string{string(Upright), string(Reversed)},
						"description": "The position of the card",
					},
				},
				"required": []string{"cardName"},
			},
		},
		{
			Name:        ActionRevealCard,
			Description: "Reveal a card that has been drawn",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index": map[string]any{
						"type":        "number",
						"description": "The index of the card to reveal (0-based)",
					},
				},
				"required": []string{"index"},
			},
		},
		{
			Name:        ActionClearCards,
			Description: "Clear all cards from the spread",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Describe renders an applied action as a short sentence, used as the tool
// result handed back to the model.
func Describe(a Action) string {
	switch v := a.(type) {
	case DrawCard:
		desc := ""
		if c, ok := Lookup(v.CardName); ok {
			desc = " (" + c.Description + ")"
		}
		pos := v.Position
		if pos == "" {
			pos = "face down, orientation left to fate"
		}
		return "Drew " + v.CardName + desc + ", " + string(pos) + "."
	case RevealCard:
		return "Revealed the card at position " + strconv.Itoa(v.Index) + "."
	case ClearCards:
		return "Cleared the spread."
	default:
		return "Done."
	}
}
