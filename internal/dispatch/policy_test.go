package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
	"github.com/aituberlink/core/domain/repositories"
)

type sinkCall struct {
	op        string // "speak" or "stop_all"
	sessionID string
	utterance repositories.Utterance
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) Speak(sessionID string, u repositories.Utterance, onStart, onComplete func()) {
	s.mu.Lock()
	s.calls = append(s.calls, sinkCall{op: "speak", sessionID: sessionID, utterance: u})
	s.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	if onComplete != nil {
		onComplete()
	}
}

func (s *fakeSink) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{op: "stop_all"})
}

func (s *fakeSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type fakeChat struct {
	chunks []string
	err    error
	last   []repositories.ChatMessage
}

func (c *fakeChat) StreamChat(ctx context.Context, messages []repositories.ChatMessage) (<-chan string, error) {
	c.last = messages
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan string, len(c.chunks))
	for _, chunk := range c.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func newTestPolicy(sink repositories.SpeechSink, chat repositories.ChatCompletion, opts Options) *Policy {
	p := NewPolicy(sink, chat, func() Options { return opts }, zap.NewNop())
	p.normalDelay = 0
	p.urgentDelay = 0
	return p
}

func speechPayload(id, text string) entities.SpeechPayload {
	return entities.SpeechPayload{
		ID:        id,
		Text:      text,
		Kind:      entities.KindSpeech,
		Priority:  entities.PriorityMedium,
		Timestamp: "2025-01-01T00:00:00Z",
	}
}

func TestDispatchDirect(t *testing.T) {
	sink := &fakeSink{}
	policy := newTestPolicy(sink, nil, Options{Mode: entities.SendModeDirect})

	result := policy.Dispatch(context.Background(), speechPayload("m1", "hello"))

	if !result.Success || result.MessageID != "m1" {
		t.Fatalf("Unexpected result %+v", result)
	}

	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].op != "speak" {
		t.Fatalf("Expected a single speak call, got %v", calls)
	}
	if calls[0].utterance.Text != "hello" {
		t.Errorf("Expected sanitized text %q, got %q", "hello", calls[0].utterance.Text)
	}
	if calls[0].utterance.Emotion != entities.EmotionNeutral {
		t.Errorf("Expected default emotion neutral, got %s", calls[0].utterance.Emotion)
	}
	if !strings.HasPrefix(calls[0].sessionID, "speech-") {
		t.Errorf("Expected ordinary session prefix, got %q", calls[0].sessionID)
	}
}

func TestDispatchEmptyText(t *testing.T) {
	sink := &fakeSink{}
	policy := newTestPolicy(sink, nil, Options{Mode: entities.SendModeDirect})

	result := policy.Dispatch(context.Background(), speechPayload("m1", "   "))

	if result.Success {
		t.Error("Expected rejection of empty text")
	}
	if len(sink.snapshot()) != 0 {
		t.Error("Expected no downstream effect for empty text")
	}
}

func TestDispatchAlertPrefix(t *testing.T) {
	sink := &fakeSink{}
	policy := newTestPolicy(sink, nil, Options{Mode: entities.SendModeDirect})

	payload := speechPayload("m1", "サーバーが落ちました")
	payload.Kind = entities.KindAlert
	policy.Dispatch(context.Background(), payload)

	// Re-dispatching already-prefixed text must not double the prefix.
	payload2 := speechPayload("m2", alertPrefix+"サーバーが落ちました")
	payload2.Kind = entities.KindAlert
	policy.Dispatch(context.Background(), payload2)

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("Expected two speak calls, got %v", calls)
	}
	want := alertPrefix + "サーバーが落ちました"
	for i, call := range calls {
		if call.utterance.Text != want {
			t.Errorf("Call %d: expected %q, got %q", i, want, call.utterance.Text)
		}
	}
}

func TestDispatchHighPriorityStopsBeforeSpeak(t *testing.T) {
	sink := &fakeSink{}
	policy := newTestPolicy(sink, nil, Options{Mode: entities.SendModeDirect})

	payload := speechPayload("m9", "breaking news")
	payload.Priority = entities.PriorityHigh
	policy.Dispatch(context.Background(), payload)

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("Expected stop_all then speak, got %v", calls)
	}
	if calls[0].op != "stop_all" {
		t.Errorf("Expected stop_all strictly before speak, got %v", calls)
	}
	if calls[1].op != "speak" || !strings.HasPrefix(calls[1].sessionID, "urgent-") {
		t.Errorf("Expected urgent session prefix, got %+v", calls[1])
	}
}

func TestDispatchAIRewrite(t *testing.T) {
	sink := &fakeSink{}
	chat := &fakeChat{chunks: []string{"rewritten ", "text"}}
	policy := newTestPolicy(sink, chat, Options{Mode: entities.SendModeAI})

	result := policy.Dispatch(context.Background(), speechPayload("m1", "original text"))

	if !result.Success {
		t.Fatalf("Unexpected result %+v", result)
	}
	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].utterance.Text != "rewritten text" {
		t.Fatalf("Expected rewritten text spoken, got %v", calls)
	}
	if len(chat.last) != 2 || chat.last[0].Role != repositories.SystemRole {
		t.Errorf("Expected a rewrite instruction plus user text, got %v", chat.last)
	}
	if chat.last[1].Content != "original text" {
		t.Errorf("Expected original text embedded in the prompt, got %q", chat.last[1].Content)
	}
}

func TestDispatchAIRewriteFallsBackToDirect(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{
			name: "no chunks",
			chat: &fakeChat{},
		},
		{
			name: "generation error",
			chat: &fakeChat{err: errors.New("model overloaded")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			policy := newTestPolicy(sink, tt.chat, Options{Mode: entities.SendModeAI})

			result := policy.Dispatch(context.Background(), speechPayload("m1", "original text"))

			if !result.Success {
				t.Fatalf("Expected fallback to succeed, got %+v", result)
			}
			calls := sink.snapshot()
			if len(calls) != 1 || calls[0].utterance.Text != "original text" {
				t.Fatalf("Expected original sanitized text spoken, got %v", calls)
			}
		})
	}
}

func TestDispatchUserInput(t *testing.T) {
	sink := &fakeSink{}
	chat := &fakeChat{chunks: []string{"glad you asked!"}}
	policy := newTestPolicy(sink, chat, Options{Mode: entities.SendModeUserInput})

	policy.Dispatch(context.Background(), speechPayload("m1", "how are you?"))

	if len(chat.last) != 1 || chat.last[0].Role != repositories.UserRole {
		t.Errorf("Expected the payload text sent directly as user input, got %v", chat.last)
	}
	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].utterance.Text != "glad you asked!" {
		t.Fatalf("Expected generated reply spoken, got %v", calls)
	}
}

func TestDispatchUserInputFallbackApology(t *testing.T) {
	sink := &fakeSink{}
	chat := &fakeChat{err: errors.New("model unavailable")}
	policy := newTestPolicy(sink, chat, Options{Mode: entities.SendModeUserInput})

	result := policy.Dispatch(context.Background(), speechPayload("m1", "how are you?"))

	if !result.Success {
		t.Fatalf("Expected apology fallback to succeed, got %+v", result)
	}
	calls := sink.snapshot()
	if len(calls) != 1 {
		t.Fatalf("Expected a single speak call, got %v", calls)
	}
	if calls[0].utterance.Text != apologyFallback {
		t.Errorf("Expected apology %q, got %q", apologyFallback, calls[0].utterance.Text)
	}
	if calls[0].utterance.Emotion != entities.EmotionSad {
		t.Errorf("Expected sad emotion, got %s", calls[0].utterance.Emotion)
	}
}

func TestDispatchPayloadEmotionWins(t *testing.T) {
	sink := &fakeSink{}
	policy := newTestPolicy(sink, nil, Options{
		Mode:           entities.SendModeDirect,
		DefaultEmotion: entities.EmotionRelaxed,
	})

	payload := speechPayload("m1", "yay")
	payload.Emotion = entities.EmotionHappy
	policy.Dispatch(context.Background(), payload)

	calls := sink.snapshot()
	if calls[0].utterance.Emotion != entities.EmotionHappy {
		t.Errorf("Expected payload emotion to win, got %s", calls[0].utterance.Emotion)
	}

	// An out-of-set emotion is treated as absent.
	payload2 := speechPayload("m2", "hmm")
	payload2.Emotion = entities.Emotion("ecstatic")
	policy.Dispatch(context.Background(), payload2)

	calls = sink.snapshot()
	if calls[1].utterance.Emotion != entities.EmotionRelaxed {
		t.Errorf("Expected configured default emotion, got %s", calls[1].utterance.Emotion)
	}
}

type panickySink struct{}

func (panickySink) Speak(string, repositories.Utterance, func(), func()) { panic("sink exploded") }
func (panickySink) StopAll()                                             {}

func TestDispatchConvertsPanicToFailedResult(t *testing.T) {
	policy := newTestPolicy(panickySink{}, nil, Options{Mode: entities.SendModeDirect})

	result := policy.Dispatch(context.Background(), speechPayload("m1", "boom"))

	if result.Success {
		t.Error("Expected a failed result from a panicking sink")
	}
	if result.MessageID != "m1" || result.Error == "" {
		t.Errorf("Expected correlated failure detail, got %+v", result)
	}
}
