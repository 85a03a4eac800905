package session

import (
	"errors"
	"fmt"

	"github.com/soyeahso/voxlink/internal/realtime"
)

var (
	// ErrNotConnected rejects operations that need a live connection.
	ErrNotConnected = errors.New("session: not connected")
	// ErrSessionActive rejects a connect while one is in progress or live.
	ErrSessionActive = errors.New("session: already connecting or connected")
	// ErrConnectCancelled is returned by a connect that was overtaken by Disconnect.
	ErrConnectCancelled = errors.New("session: connect cancelled")
	// ErrVoiceLocked rejects a voice change while a connection exists.
	ErrVoiceLocked = errors.New("session: voice can only change while disconnected")
	// ErrNoAgents rejects a connect or switch with an empty agent set.
	ErrNoAgents = errors.New("session: agent set is empty")
)

// CredentialError means the credential could not be obtained.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("credential fetch failed: %v", e.Err) }
func (e *CredentialError) Unwrap() error { return e.Err }

// TransportNegotiationError means the connection could not be established.
type TransportNegotiationError struct {
	Err error
}

func (e *TransportNegotiationError) Error() string {
	return fmt.Sprintf("transport negotiation failed: %v", e.Err)
}
func (e *TransportNegotiationError) Unwrap() error { return e.Err }

// UpstreamProtocolError is an error event received on a live connection.
type UpstreamProtocolError struct {
	Detail realtime.ErrorDetail
}

func (e *UpstreamProtocolError) Error() string {
	if e.Detail.Code != "" {
		return fmt.Sprintf("upstream error %s (%s): %s", e.Detail.Type, e.Detail.Code, e.Detail.Message)
	}
	return fmt.Sprintf("upstream error %s: %s", e.Detail.Type, e.Detail.Message)
}

// ConnectionLostError reports a transport that closed without Disconnect.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	if e.Err == nil {
		return "connection closed by upstream"
	}
	return fmt.Sprintf("connection lost: %v", e.Err)
}
func (e *ConnectionLostError) Unwrap() error { return e.Err }
