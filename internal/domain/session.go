package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the connection state of a voice session.
type SessionStatus int

const (
	StatusDisconnected SessionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s SessionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("SessionStatus(%d)", int(s))
	}
}

// MarshalText renders the status by name for JSON payloads.
func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *SessionStatus) UnmarshalText(text []byte) error {
	for _, st := range []SessionStatus{StatusDisconnected, StatusConnecting, StatusConnected} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", text)
}

// SessionRecord is the archived summary of one connection.
type SessionRecord struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario,omitempty"`
	RootAgent string    `json:"rootAgent,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Items     int       `json:"items"`
}
