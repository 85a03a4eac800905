// Package transport owns the realtime connection to the upstream service.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/voxlink/internal/realtime"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one negotiated realtime connection.
type Conn interface {
	// Send writes one control message.
	Send(ctx context.Context, ev realtime.ClientEvent) error
	// Events yields inbound events in delivery order. The channel is closed
	// once the connection ends, for any reason.
	Events() <-chan realtime.ServerEvent
	// SetMuted gates inbound audio. It is idempotent.
	SetMuted(muted bool)
	Muted() bool
	// Close ends the connection. Safe to call more than once.
	Close() error
	// Err returns the error that ended the connection, nil on a clean close.
	Err() error
}

// SetupFunc edits the initial session configuration. It runs exactly once
// per dial attempt, before the configuration is sent.
type SetupFunc func(cfg *realtime.SessionConfig)

// DialRequest describes one connection attempt.
type DialRequest struct {
	Credential string
	Model      string
	Session    realtime.SessionConfig
	Setup      SetupFunc
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

// UpstreamError is an error event received while negotiating.
type UpstreamError struct {
	Detail realtime.ErrorDetail
}

func (e *UpstreamError) Error() string {
	if e.Detail.Code != "" {
		return fmt.Sprintf("upstream %s (%s): %s", e.Detail.Type, e.Detail.Code, e.Detail.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Detail.Type, e.Detail.Message)
}
