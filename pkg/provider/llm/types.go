package llm

// Role values accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons reported in [CompletionResponse.FinishReason]. Backends that
// report other values pass them through unchanged.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting of one call, in the model's own units.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
