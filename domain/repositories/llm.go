package repositories

import "context"

// ChatCompletion abstracts any chat/LLM provider.
type ChatCompletion interface {
	// StreamChat sends the ordered message list to the model and returns a
	// finite, lazily-produced sequence of text chunks. The channel is closed
	// when generation ends; the sequence cannot be restarted. Callers
	// concatenate the chunks and trim the result.
	StreamChat(ctx context.Context, messages []ChatMessage) (<-chan string, error)
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender.
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
