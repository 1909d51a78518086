package llm

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a completion conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the text of the message. Assistant messages that only carry
	// tool calls leave it empty.
	Content string

	// ToolCalls lists the functions the assistant invoked in this message.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the function's arguments.
	Parameters map[string]any
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
}
