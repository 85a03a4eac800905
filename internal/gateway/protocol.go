package gateway

import (
	"encoding/json"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

// Frame types of the UI bridge protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// ProtocolVersion is the UI bridge protocol version.
const ProtocolVersion = 1

// Frame is the envelope of every websocket message. Type discriminates
// between request, response and event frames.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	RetryAfter int    `json:"retryAfterMs,omitempty"`
}

// ConnectParams open a UI client connection. Not to be confused with
// session.connect, which starts the voice session.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

// ClientInfo identifies a UI client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
}

// ConnectAuth carries UI client credentials.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
	Session  StatusReply  `json:"session"`
}

// ServerInfo identifies the gateway.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists the RPC methods and event names.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy communicates protocol limits.
type ServerPolicy struct {
	MaxPayload        int     `json:"maxPayload"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// StatusReply describes the voice session.
type StatusReply struct {
	Status        domain.SessionStatus `json:"status"`
	SessionID     string               `json:"sessionId,omitempty"`
	ActiveAgent   string               `json:"activeAgent,omitempty"`
	Agents        []string             `json:"agents"`
	Scenario      string               `json:"scenario,omitempty"`
	Muted         bool                 `json:"muted"`
	TurnDetection turndetect.Settings  `json:"turnDetection"`
}

// HealthReply answers the health method. The public HTTP check only fills
// Status.
type HealthReply struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	Clients       int    `json:"clients,omitempty"`
	SessionStatus string `json:"sessionStatus,omitempty"`
	UptimeMs      int64  `json:"uptimeMs,omitempty"`
}

// SessionConnectParams select the agents of a new voice session.
type SessionConnectParams struct {
	Scenario string `json:"scenario,omitempty"`
	Agent    string `json:"agent,omitempty"`
}

// ChatSendParams carry a typed user message.
type ChatSendParams struct {
	Message string `json:"message"`
}

// PlaybackParams toggle local audio playback.
type PlaybackParams struct {
	Enabled bool `json:"enabled"`
}

// MuteParams toggle mute.
type MuteParams struct {
	Muted bool `json:"muted"`
}

// VoiceParams pick the voice of the next session.
type VoiceParams struct {
	Voice string `json:"voice"`
}

// AgentSelectParams switch the speaking agent.
type AgentSelectParams struct {
	Agent    string `json:"agent"`
	Scenario string `json:"scenario,omitempty"`
}

// TranscriptReply is the transcript in display order.
type TranscriptReply struct {
	Items []transcript.Item `json:"items"`
}

// ToggleParams name a transcript item.
type ToggleParams struct {
	ItemID string `json:"itemId"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, errShape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &errShape}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
