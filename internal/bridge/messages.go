package bridge

// Outbound frame types.
const (
	frameSpeak   = "speak"
	frameStopAll = "stop_all"
)

// Inbound renderer report types.
const (
	reportSpeakStarted = "speak_started"
	reportSpeakDone    = "speak_done"
)

// speakFrame asks renderers to voice and animate one utterance.
type speakFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Emotion   string `json:"emotion"`
	Text      string `json:"text"`
}

// stopAllFrame halts everything currently playing.
type stopAllFrame struct {
	Type string `json:"type"`
}

// rendererReport is what renderers send back about session progress.
type rendererReport struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}
