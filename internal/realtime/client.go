package realtime

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Client event types.
const (
	ClientSessionUpdate  = "session.update"
	ClientItemCreate     = "conversation.item.create"
	ClientResponseCreate = "response.create"
	ClientResponseCancel = "response.cancel"
	ClientInputAppend    = "input_audio_buffer.append"
	ClientInputCommit    = "input_audio_buffer.commit"
	ClientInputClear     = "input_audio_buffer.clear"
)

// ClientEvent is one outbound control message.
type ClientEvent struct {
	Type    string         `json:"type"`
	EventID string         `json:"event_id,omitempty"`
	Session *SessionConfig `json:"session,omitempty"`
	Item    *Item          `json:"item,omitempty"`
	Audio   string         `json:"audio,omitempty"`
}

// Tool is a function tool declaration.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Transcription configures input audio transcription.
type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the body of session.update. TurnDetection is kept raw so
// an explicit null can be sent to disable it.
type SessionConfig struct {
	Modalities              []string        `json:"modalities,omitempty"`
	Instructions            string          `json:"instructions,omitempty"`
	Voice                   string          `json:"voice,omitempty"`
	InputAudioFormat        string          `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string          `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription  `json:"input_audio_transcription,omitempty"`
	TurnDetection           json.RawMessage `json:"turn_detection,omitempty"`
	Tools                   []Tool          `json:"tools,omitempty"`
	ToolChoice              string          `json:"tool_choice,omitempty"`
}

// TurnDetection is the voice-activity block of session.update.
type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
	Eagerness         string   `json:"eagerness,omitempty"`
	CreateResponse    bool     `json:"create_response"`
}

var nullJSON = json.RawMessage("null")

// EncodeTurnDetection renders td for SessionConfig.TurnDetection. A nil td
// encodes as an explicit null, which disables server turn detection.
func EncodeTurnDetection(td *TurnDetection) json.RawMessage {
	if td == nil {
		return nullJSON
	}
	data, err := json.Marshal(td)
	if err != nil {
		return nullJSON
	}
	return data
}

// NewEventID returns a fresh client event id.
func NewEventID() string {
	return "evt_" + compactUUID()[:24]
}

// NewItemID returns a fresh conversation item id (32 chars max upstream).
func NewItemID() string {
	return "item_" + compactUUID()[:27]
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SessionUpdate builds a session.update event.
func SessionUpdate(cfg SessionConfig) ClientEvent {
	return ClientEvent{Type: ClientSessionUpdate, EventID: NewEventID(), Session: &cfg}
}

// UserText builds a user text message item with the given id.
func UserText(itemID, text string) ClientEvent {
	return ClientEvent{
		Type:    ClientItemCreate,
		EventID: NewEventID(),
		Item: &Item{
			ID:      itemID,
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// FunctionCallOutput answers a tool call.
func FunctionCallOutput(callID, output string) ClientEvent {
	return ClientEvent{
		Type:    ClientItemCreate,
		EventID: NewEventID(),
		Item:    &Item{Type: "function_call_output", CallID: callID, Output: output},
	}
}

// ResponseCreate asks the agent to respond.
func ResponseCreate() ClientEvent {
	return ClientEvent{Type: ClientResponseCreate, EventID: NewEventID()}
}

// ResponseCancel cancels the in-flight response.
func ResponseCancel() ClientEvent {
	return ClientEvent{Type: ClientResponseCancel, EventID: NewEventID()}
}

// InputAudioAppend streams microphone audio.
func InputAudioAppend(pcm []byte) ClientEvent {
	return ClientEvent{Type: ClientInputAppend, EventID: NewEventID(), Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// InputAudioCommit closes the current user utterance.
func InputAudioCommit() ClientEvent {
	return ClientEvent{Type: ClientInputCommit, EventID: NewEventID()}
}

// InputAudioClear discards buffered microphone audio.
func InputAudioClear() ClientEvent {
	return ClientEvent{Type: ClientInputClear, EventID: NewEventID()}
}
