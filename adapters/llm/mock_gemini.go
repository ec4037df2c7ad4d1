package llm

import (
	"context"
	"fmt"

	"github.com/aituberlink/core/domain/repositories"
)

// MockChat is a deterministic ChatCompletion for tests and offline runs.
type MockChat struct{}

var _ repositories.ChatCompletion = (*MockChat)(nil)

// NewMockChat creates a new mock chat-completion adapter.
func NewMockChat() *MockChat {
	return &MockChat{}
}

// StreamChat echoes a canned reply built from the last message.
func (m *MockChat) StreamChat(ctx context.Context, messages []repositories.ChatMessage) (<-chan string, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	last := messages[len(messages)-1]
	out := make(chan string, 2)
	out <- "なるほど、"
	out <- fmt.Sprintf("「%s」ですね!", last.Content)
	close(out)
	return out, nil
}
