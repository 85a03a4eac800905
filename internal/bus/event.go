package bus

import (
	"encoding/json"
	"time"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/transcript"
)

var now = time.Now

// Handoff describes an active-agent switch.
type Handoff struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Manual is set when the user picked the agent rather than the model.
	Manual bool `json:"manual,omitempty"`
}

// Event is one bus notification. Which fields are set depends on Kind.
type Event struct {
	Kind      Kind
	At        time.Time
	SessionID string
	Status    domain.SessionStatus
	Err       error
	Handoff   *Handoff
	Item      *transcript.Item
	Muted     bool
	Upstream  *realtime.ServerEvent
}

type eventJSON struct {
	Kind         string               `json:"kind"`
	At           time.Time            `json:"at"`
	SessionID    string               `json:"sessionId,omitempty"`
	Status       domain.SessionStatus `json:"status"`
	Error        string               `json:"error,omitempty"`
	Handoff      *Handoff             `json:"handoff,omitempty"`
	Item         *transcript.Item     `json:"item,omitempty"`
	Muted        *bool                `json:"muted,omitempty"`
	UpstreamType string               `json:"upstreamType,omitempty"`
}

// MarshalJSON renders the event for UI clients.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:      e.Kind.String(),
		At:        e.At,
		SessionID: e.SessionID,
		Status:    e.Status,
		Handoff:   e.Handoff,
		Item:      e.Item,
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	if e.Kind == KindMuteChanged {
		m := e.Muted
		out.Muted = &m
	}
	if e.Upstream != nil {
		out.UpstreamType = e.Upstream.Type
	}
	return json.Marshal(out)
}
