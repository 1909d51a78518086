package reading

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/cartomancer/internal/history"
	"github.com/MrWong99/cartomancer/pkg/provider/llm"
)

// replayedToolResult stands in for the result of a tool call that was
// applied on the client in an earlier turn.
const replayedToolResult = "ok"

// buildMessages converts the client history and the new utterance into the
// provider-neutral message list. System messages from the client are kept in
// place. An assistant message that carried a function call becomes an
// assistant tool call followed by a synthetic tool result, which is the
// shape every chat API with tools accepts.
func buildMessages(hist []history.Message, utterance string) []llm.Message {
	msgs := make([]llm.Message, 0, len(hist)+2)
	for i, m := range hist {
		switch m.Role {
		case history.RoleSystem:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		case history.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case history.RoleAssistant:
			if m.FunctionCall == nil {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
				continue
			}
			id := "hist-" + strconv.Itoa(i)
			msgs = append(msgs,
				llm.Message{
					Role:    llm.RoleAssistant,
					Content: m.Content,
					ToolCalls: []llm.ToolCall{{
						ID:        id,
						Name:      m.FunctionCall.Name,
						Arguments: m.FunctionCall.Arguments,
					}},
				},
				llm.Message{Role: llm.RoleTool, Content: replayedToolResult, ToolCallID: id},
			)
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})
}

var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<function_call>.*?</function_call>`),
	regexp.MustCompile("(?s)```(?:json)?\\s*\\{.*?\\}\\s*```"),
	regexp.MustCompile(`(?s)\b(?:drawCard|revealCard|clearCards)\s*\(\s*(?:\{.*?\})?\s*\)`),
	regexp.MustCompile(`\[(?:drawCard|revealCard|clearCards)[^\]]*\]`),
}

var spaceRun = regexp.MustCompile(`[ \t]{2,}`)

// stripMarkup removes tool calls a model wrote into its text instead of
// calling the tool, so they are not read aloud.
func stripMarkup(s string) string {
	for _, re := range markupPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// joinReply concatenates the text of the tool pass and the follow-up pass.
func joinReply(first, second string) string {
	first, second = strings.TrimSpace(first), strings.TrimSpace(second)
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + " " + second
	}
}
