package llm

// Message is a single turn in a chat conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}

// ModelCapabilities describes the limits and features of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of tokens the model accepts.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens the model can generate.
	MaxOutputTokens int

	// SupportsJSONMode reports whether the backend can be forced to emit a
	// single JSON object.
	SupportsJSONMode bool
}
