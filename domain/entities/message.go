package entities

import "time"

// MessageKind classifies an inbound speech instruction.
type MessageKind string

const (
	KindSpeech       MessageKind = "speech"
	KindAlert        MessageKind = "alert"
	KindNotification MessageKind = "notification"
)

// Valid reports whether k is one of the recognized message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindSpeech, KindAlert, KindNotification:
		return true
	}
	return false
}

// Priority controls queueing behavior at dispatch time. High-priority
// payloads preempt all in-flight speech; medium and low are appended
// to the ordinary queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the recognized priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Emotion is the expression tag forwarded to the speech sink.
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionHappy     Emotion = "happy"
	EmotionAngry     Emotion = "angry"
	EmotionSad       Emotion = "sad"
	EmotionRelaxed   Emotion = "relaxed"
	EmotionSurprised Emotion = "surprised"
)

// Valid reports whether e is a member of the fixed emotion set. An empty
// or unknown value is treated as absent everywhere downstream.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionAngry, EmotionSad, EmotionRelaxed, EmotionSurprised:
		return true
	}
	return false
}

// SendMode governs how inbound text becomes spoken output.
type SendMode string

const (
	// SendModeDirect speaks the payload text verbatim after sanitization.
	SendModeDirect SendMode = "direct"
	// SendModeAI rewrites the payload text through the chat-completion
	// collaborator before speaking.
	SendModeAI SendMode = "ai"
	// SendModeUserInput treats the payload text as an end-user utterance
	// and speaks the generated reply.
	SendModeUserInput SendMode = "user_input"
)

// Valid reports whether m is one of the recognized send modes.
func (m SendMode) Valid() bool {
	switch m {
	case SendModeDirect, SendModeAI, SendModeUserInput:
		return true
	}
	return false
}

// SpeechPayload is a validated inbound instruction. It is created by the
// decoder and read-only downstream. ID is used for log/result correlation
// only, never for deduplication.
type SpeechPayload struct {
	ID        string                 `json:"id"`
	Text      string                 `json:"text"`
	Kind      MessageKind            `json:"type"`
	Priority  Priority               `json:"priority"`
	Timestamp string                 `json:"timestamp"`
	Speaker   string                 `json:"speaker,omitempty"`
	Emotion   Emotion                `json:"emotion,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// DispatchResult is produced once per processed payload. The dispatch
// layer never retries a failed payload on its own.
type DispatchResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
