package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
	"github.com/aituberlink/core/domain/repositories"
)

const (
	// Session-correlation prefixes make interrupting output traceable in
	// the sink's logs.
	urgentSessionPrefix = "urgent-"
	normalSessionPrefix = "speech-"

	defaultPreSpeechDelay = 500 * time.Millisecond
	urgentPreSpeechDelay  = 100 * time.Millisecond
)

// Spoken-facing fixed strings.
const (
	alertPrefix        = "【アラート】"
	notificationPrefix = "【お知らせ】"
	apologyFallback    = "ごめんなさい、いまはうまく答えられません。"
)

const rewriteInstruction = "あなたは配信中のAITuberです。次のメッセージを、意味を変えずにあなた自身の言葉で自然に言い直してください。言い直した文だけを出力してください。"

// Options is the process-wide dispatch configuration, read once per
// dispatched payload.
type Options struct {
	Mode           entities.SendMode
	DefaultEmotion entities.Emotion
}

// Policy decides, per payload, whether to speak it verbatim, rewrite it via
// the chat-completion collaborator, or treat it as end-user input, then
// applies sanitization and priority handling before handing off to the sink.
type Policy struct {
	sink   repositories.SpeechSink
	chat   repositories.ChatCompletion
	opts   func() Options
	logger *zap.Logger

	// Overridable pre-speech delays; tests zero them out.
	normalDelay time.Duration
	urgentDelay time.Duration
}

// NewPolicy creates a dispatch policy. opts is consulted at dispatch time
// so send-mode changes apply to the next payload without rebuilding.
func NewPolicy(sink repositories.SpeechSink, chat repositories.ChatCompletion, opts func() Options, logger *zap.Logger) *Policy {
	return &Policy{
		sink:        sink,
		chat:        chat,
		opts:        opts,
		logger:      logger,
		normalDelay: defaultPreSpeechDelay,
		urgentDelay: urgentPreSpeechDelay,
	}
}

// Dispatch processes one validated payload and always returns a result;
// failures during generation or hand-off are caught and converted, never
// propagated, so no payload can take down the dispatch loop.
func (p *Policy) Dispatch(ctx context.Context, payload entities.SpeechPayload) (result entities.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Dispatch panicked",
				zap.String("message_id", payload.ID),
				zap.Any("panic", r))
			result = entities.DispatchResult{
				MessageID: payload.ID,
				Error:     fmt.Sprintf("dispatch failure: %v", r),
			}
		}
	}()

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return entities.DispatchResult{
			MessageID: payload.ID,
			Error:     "empty text",
		}
	}

	opts := p.opts()

	switch opts.Mode {
	case entities.SendModeAI:
		generated, err := p.generate(ctx, []repositories.ChatMessage{
			{Role: repositories.SystemRole, Content: rewriteInstruction},
			{Role: repositories.UserRole, Content: text},
		})
		if err != nil || generated == "" {
			p.logger.Warn("Rewrite generation failed, speaking original text",
				zap.String("message_id", payload.ID),
				zap.Error(err))
			p.speak(payload, p.directText(payload, text), opts)
			return entities.DispatchResult{Success: true, MessageID: payload.ID}
		}
		p.speak(payload, generated, opts)

	case entities.SendModeUserInput:
		generated, err := p.generate(ctx, []repositories.ChatMessage{
			{Role: repositories.UserRole, Content: text},
		})
		if err != nil || generated == "" {
			p.logger.Warn("Reply generation failed, speaking apology",
				zap.String("message_id", payload.ID),
				zap.Error(err))
			p.speakWithEmotion(payload, apologyFallback, entities.EmotionSad)
			return entities.DispatchResult{Success: true, MessageID: payload.ID}
		}
		p.speak(payload, generated, opts)

	default: // direct
		p.speak(payload, p.directText(payload, text), opts)
	}

	return entities.DispatchResult{Success: true, MessageID: payload.ID}
}

// directText applies the type-specific prefix for alerts and notifications
// unless the text already carries it.
func (p *Policy) directText(payload entities.SpeechPayload, text string) string {
	switch payload.Kind {
	case entities.KindAlert:
		if !strings.HasPrefix(text, alertPrefix) {
			return alertPrefix + text
		}
	case entities.KindNotification:
		if !strings.HasPrefix(text, notificationPrefix) {
			return notificationPrefix + text
		}
	}
	return text
}

func (p *Policy) speak(payload entities.SpeechPayload, text string, opts Options) {
	emotion := payload.Emotion
	if !emotion.Valid() {
		emotion = opts.DefaultEmotion
	}
	if !emotion.Valid() {
		emotion = entities.EmotionNeutral
	}
	p.speakWithEmotion(payload, text, emotion)
}

// speakWithEmotion sanitizes and hands one utterance to the sink. High
// priority stops all in-flight output, including output unrelated to this
// subsystem, strictly before the new utterance is enqueued.
func (p *Policy) speakWithEmotion(payload entities.SpeechPayload, text string, emotion entities.Emotion) {
	sanitized := SanitizeText(text)
	if sanitized == "" {
		sanitized = unspeakableFallback
	}

	sessionID := normalSessionPrefix + payload.ID
	delay := p.normalDelay
	if payload.Priority == entities.PriorityHigh {
		sessionID = urgentSessionPrefix + payload.ID
		delay = p.urgentDelay
		p.logger.Info("High-priority payload, stopping all speech",
			zap.String("session_id", sessionID))
		p.sink.StopAll()
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	logger := p.logger.With(
		zap.String("session_id", sessionID),
		zap.String("emotion", string(emotion)))
	p.sink.Speak(sessionID,
		repositories.Utterance{Emotion: emotion, Text: sanitized},
		func() { logger.Debug("Speech started") },
		func() { logger.Debug("Speech completed") },
	)
}

// generate runs one chat completion and concatenates its chunk stream.
func (p *Policy) generate(ctx context.Context, messages []repositories.ChatMessage) (string, error) {
	if p.chat == nil {
		return "", fmt.Errorf("no chat-completion collaborator configured")
	}

	chunks, err := p.chat.StreamChat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	return strings.TrimSpace(b.String()), nil
}
