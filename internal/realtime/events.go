// Package realtime defines the upstream realtime event protocol: tagged JSON
// server events, their payloads, and the client events voxlink sends.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Server event types.
const (
	EventError                       = "error"
	EventSessionCreated              = "session.created"
	EventSessionUpdated              = "session.updated"
	EventItemCreated                 = "conversation.item.created"
	EventItemAdded                   = "conversation.item.added"
	EventInputTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	EventAudioTranscriptDelta        = "response.audio_transcript.delta"
	EventAudioTranscriptDone         = "response.audio_transcript.done"
	EventOutputTranscriptDelta       = "response.output_audio_transcript.delta"
	EventOutputTranscriptDone        = "response.output_audio_transcript.done"
	EventTextDelta                   = "response.text.delta"
	EventTextDone                    = "response.text.done"
	EventAudioDelta                  = "response.audio.delta"
	EventOutputAudioDelta            = "response.output_audio.delta"
	EventFunctionCallArgumentsDone   = "response.function_call_arguments.done"
	EventSpeechStarted               = "input_audio_buffer.speech_started"
	EventSpeechStopped               = "input_audio_buffer.speech_stopped"
	EventInputCommitted              = "input_audio_buffer.committed"
	EventResponseCreated             = "response.created"
	EventResponseDone                = "response.done"
	EventRateLimitsUpdated           = "rate_limits.updated"
	EventGuardrailTripped            = "guardrail_tripped"
)

// ErrMissingType is returned when an inbound frame has no "type" tag.
var ErrMissingType = errors.New("realtime: event has no type")

// ServerEvent is one inbound tagged message. The payload is decoded lazily.
type ServerEvent struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Decode parses a raw frame into a ServerEvent.
func Decode(data []byte) (ServerEvent, error) {
	var head struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ServerEvent{}, err
	}
	if head.Type == "" {
		return ServerEvent{}, ErrMissingType
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return ServerEvent{Type: head.Type, EventID: head.EventID, Raw: raw}, nil
}

// Into unmarshals the full event into v.
func (e ServerEvent) Into(v any) error {
	if len(e.Raw) == 0 {
		return errors.New("realtime: event has no payload")
	}
	return json.Unmarshal(e.Raw, v)
}

// ContentPart is one piece of a conversation item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Audio      string `json:"audio,omitempty"`
}

// Item is a conversation item as sent and received on the wire.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"` // "message" | "function_call" | "function_call_output"
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// Text joins the textual content of the item.
func (i Item) Text() string {
	var b strings.Builder
	for _, c := range i.Content {
		switch {
		case c.Text != "":
			b.WriteString(c.Text)
		case c.Transcript != "":
			b.WriteString(c.Transcript)
		}
	}
	return b.String()
}

// ItemEvent carries conversation.item.created / added.
type ItemEvent struct {
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// TranscriptEvent carries transcription and text deltas and completions.
type TranscriptEvent struct {
	ItemID     string `json:"item_id"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Final returns the authoritative completed text.
func (t TranscriptEvent) Final() string {
	if t.Transcript != "" {
		return t.Transcript
	}
	return t.Text
}

// AudioDeltaEvent carries a base64 chunk of output audio.
type AudioDeltaEvent struct {
	ItemID     string `json:"item_id"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// PCM decodes the audio chunk.
func (a AudioDeltaEvent) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Delta)
}

// FunctionCallEvent carries response.function_call_arguments.done.
type FunctionCallEvent struct {
	ItemID    string `json:"item_id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ErrorDetail describes an upstream error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorEvent carries an "error" event.
type ErrorEvent struct {
	Error ErrorDetail `json:"error"`
}

// Guardrail is a moderation verdict attached to an item.
type Guardrail struct {
	Name      string `json:"name,omitempty"`
	Category  string `json:"category,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Tripped   bool   `json:"tripped"`
}

// GuardrailEvent carries guardrail_tripped.
type GuardrailEvent struct {
	ItemID    string    `json:"item_id"`
	Guardrail Guardrail `json:"guardrail"`
}
