package llm

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/aituberlink/core/domain/repositories"
)

const (
	defaultModel           = "gemini-2.0-flash"
	defaultTemperature     = 0.8
	defaultMaxOutputTokens = 256
)

// GeminiConfig holds configuration for the Gemini chat-completion adapter.
// Required fields:
// - APIKey: Your Google AI API key
// Optional fields with defaults:
// - Model: The model ID to use (default: "gemini-2.0-flash")
// - Temperature: Sampling temperature between 0 and 1 (default: 0.8)
// - MaxOutputTokens: Reply length cap (default: 256)
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
}

// ValidateGeminiConfig validates the GeminiConfig.
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}
	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", config.MaxOutputTokens)
	}
	return nil
}

// GeminiChat implements the ChatCompletion interface using Google's Gemini API.
type GeminiChat struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     float32
	maxOutputTokens int
}

var _ repositories.ChatCompletion = (*GeminiChat)(nil)

// NewGeminiChat creates a new Gemini chat-completion adapter.
func NewGeminiChat(config GeminiConfig, logger *zap.Logger) (*GeminiChat, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}

	return &GeminiChat{
		client:          client,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		maxOutputTokens: maxOutputTokens,
	}, nil
}

// NewGeminiChatFromEnv builds the adapter from the GEMINI_API_KEY
// environment variable.
func NewGeminiChatFromEnv(logger *zap.Logger) (*GeminiChat, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	return NewGeminiChat(GeminiConfig{APIKey: apiKey}, logger)
}

// StreamChat sends the message list to Gemini and forwards generated text
// as a lazily-produced chunk sequence. The channel closes when generation
// ends; failures mid-stream end the sequence early and are logged, leaving
// the caller with whatever was produced so far.
func (g *GeminiChat) StreamChat(ctx context.Context, messages []repositories.ChatMessage) (<-chan string, error) {
	contents := toGeminiContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	temperature := g.temperature
	maxTokens := int32(g.maxOutputTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for response, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				g.logger.Warn("Gemini stream ended with error", zap.Error(err))
				return
			}
			if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
				continue
			}
			for _, part := range response.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case out <- part.Text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// toGeminiContents converts repository messages to Gemini format. Gemini
// has no separate system role, so system messages are sent as user turns.
func toGeminiContents(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
