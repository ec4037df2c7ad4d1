package repositories

import "github.com/aituberlink/core/domain/entities"

// Utterance is one unit of spoken output handed to the sink.
type Utterance struct {
	Emotion entities.Emotion `json:"emotion"`
	Text    string           `json:"text"`
}

// SpeechSink abstracts the text-to-speech/avatar-animation collaborator.
type SpeechSink interface {
	// Speak enqueues one utterance for the given session. It is
	// fire-and-forget; onStart and onComplete are optional and may be nil.
	Speak(sessionID string, u Utterance, onStart func(), onComplete func())

	// StopAll halts all in-flight and queued output regardless of origin.
	// Once issued it cannot be undone for currently playing output.
	StopAll()
}
