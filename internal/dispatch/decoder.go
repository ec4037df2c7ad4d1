// Package dispatch turns raw inbound broker messages into spoken output:
// decoding and validation, send-mode policy, sanitization, and
// priority-driven interruption.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aituberlink/core/domain/entities"
)

// ErrDecode marks a malformed inbound payload. The message is dropped and
// the connection is unaffected.
var ErrDecode = errors.New("inbound message rejected")

// WireForm is the tagged decomposition of one raw payload: either plain
// text or a structured record. Exactly one concrete type implements each
// arm; there is no untyped dynamic case.
type WireForm interface {
	wireForm()
}

// Plain is the degraded form for non-JSON input.
type Plain struct {
	Text string
}

// Structured is a fully validated speech payload.
type Structured struct {
	Payload entities.SpeechPayload
}

func (Plain) wireForm()      {}
func (Structured) wireForm() {}

// wireRecord defers field decoding so that a mistyped required field can be
// told apart from a missing one.
type wireRecord struct {
	ID        *json.RawMessage `json:"id"`
	Text      *json.RawMessage `json:"text"`
	Kind      *json.RawMessage `json:"type"`
	Priority  *json.RawMessage `json:"priority"`
	Timestamp *json.RawMessage `json:"timestamp"`
	Speaker   *json.RawMessage `json:"speaker"`
	Emotion   *json.RawMessage `json:"emotion"`
	Metadata  *json.RawMessage `json:"metadata"`
}

// DecodeMessage parses raw inbound bytes into a speech payload. JSON
// objects must carry every required field with the right type or the whole
// message is rejected; malformed optional fields are dropped silently.
// Non-JSON text is accepted as a degraded plain form with kind speech,
// priority medium, a generated id and the current timestamp.
func DecodeMessage(raw []byte) (entities.SpeechPayload, error) {
	form, err := classify(raw)
	if err != nil {
		return entities.SpeechPayload{}, err
	}

	switch f := form.(type) {
	case Plain:
		return entities.SpeechPayload{
			ID:         uuid.NewString(),
			Text:       f.Text,
			Kind:       entities.KindSpeech,
			Priority:   entities.PriorityMedium,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			ReceivedAt: time.Now(),
		}, nil
	case Structured:
		p := f.Payload
		p.ReceivedAt = time.Now()
		return p, nil
	default:
		return entities.SpeechPayload{}, fmt.Errorf("%w: unhandled wire form", ErrDecode)
	}
}

// classify splits raw bytes into the tagged union.
func classify(raw []byte) (WireForm, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	var record wireRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		// Not a JSON object: degraded plain-text form.
		return Plain{Text: trimmed}, nil
	}

	payload, err := validateRecord(record)
	if err != nil {
		return nil, err
	}
	return Structured{Payload: payload}, nil
}

func validateRecord(r wireRecord) (entities.SpeechPayload, error) {
	var p entities.SpeechPayload

	id, err := requiredString(r.ID, "id")
	if err != nil {
		return p, err
	}
	text, err := requiredString(r.Text, "text")
	if err != nil {
		return p, err
	}
	if strings.TrimSpace(text) == "" {
		return p, fmt.Errorf("%w: field \"text\" must not be empty", ErrDecode)
	}
	kindStr, err := requiredString(r.Kind, "type")
	if err != nil {
		return p, err
	}
	kind := entities.MessageKind(kindStr)
	if !kind.Valid() {
		return p, fmt.Errorf("%w: unknown message type %q", ErrDecode, kindStr)
	}
	prioStr, err := requiredString(r.Priority, "priority")
	if err != nil {
		return p, err
	}
	priority := entities.Priority(prioStr)
	if !priority.Valid() {
		return p, fmt.Errorf("%w: unknown priority %q", ErrDecode, prioStr)
	}
	timestamp, err := requiredString(r.Timestamp, "timestamp")
	if err != nil {
		return p, err
	}

	p = entities.SpeechPayload{
		ID:        id,
		Text:      text,
		Kind:      kind,
		Priority:  priority,
		Timestamp: timestamp,
	}

	// Optional fields: malformed values are dropped, never fatal.
	if s, ok := optionalString(r.Speaker); ok {
		p.Speaker = s
	}
	if s, ok := optionalString(r.Emotion); ok {
		if e := entities.Emotion(s); e.Valid() {
			p.Emotion = e
		}
	}
	if r.Metadata != nil {
		var meta map[string]interface{}
		if err := json.Unmarshal(*r.Metadata, &meta); err == nil {
			p.Metadata = meta
		}
	}

	return p, nil
}

func requiredString(raw *json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing required field %q", ErrDecode, field)
	}
	var s string
	if err := json.Unmarshal(*raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %q must be a string", ErrDecode, field)
	}
	return s, nil
}

func optionalString(raw *json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(*raw, &s); err != nil {
		return "", false
	}
	return s, true
}
