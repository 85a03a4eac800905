package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/version"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	eventBuffer      = 256
	// maxHandshakeFrames bounds how many unrelated events may precede the
	// session.updated acknowledgement.
	maxHandshakeFrames = 32
)

// WebSocketDialer dials the realtime service over gorilla/websocket.
type WebSocketDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	log    *logging.Logger
}

// NewWebSocketDialer creates a dialer for the given realtime endpoint.
func NewWebSocketDialer(endpoint string, log *logging.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		URL: endpoint,
		Header: http.Header{
			"OpenAI-Beta": []string{"realtime=v1"},
			"User-Agent":  []string{version.UserAgent()},
		},
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: log.Sub("transport"),
	}
}

// Dial connects, waits for session.created, runs the setup hook, sends the
// initial session.update and waits for session.updated. Cancelling ctx at
// any point aborts the attempt.
func (d *WebSocketDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	target, err := d.endpoint(req.Model)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Authorization", "Bearer "+req.Credential)

	ws, resp, err := d.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	// Reads below block without observing ctx; closing the socket unblocks them.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	if err := d.negotiate(ctx, ws, req); err != nil {
		stop()
		_ = ws.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if !stop() {
		_ = ws.Close()
		return nil, ctx.Err()
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := newWSConn(ws, d.log)
	go c.readLoop()
	d.log.Info().Str("model", req.Model).Str("codec", req.Session.InputAudioFormat).Msg("realtime connection negotiated")
	return c, nil
}

func (d *WebSocketDialer) endpoint(model string) (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (d *WebSocketDialer) negotiate(ctx context.Context, ws *websocket.Conn, req DialRequest) error {
	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = ws.SetReadDeadline(deadline)

	if _, err := awaitEvent(ws, realtime.EventSessionCreated); err != nil {
		return fmt.Errorf("awaiting session.created: %w", err)
	}

	cfg := req.Session
	if req.Setup != nil {
		req.Setup(&cfg)
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(realtime.SessionUpdate(cfg)); err != nil {
		return fmt.Errorf("sending initial session.update: %w", err)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	if _, err := awaitEvent(ws, realtime.EventSessionUpdated); err != nil {
		return fmt.Errorf("awaiting session.updated: %w", err)
	}
	return nil
}

// awaitEvent reads frames until one of the wanted type arrives. An error
// event fails the wait.
func awaitEvent(ws *websocket.Conn, want string) (realtime.ServerEvent, error) {
	for range maxHandshakeFrames {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return realtime.ServerEvent{}, err
		}
		ev, err := realtime.Decode(data)
		if err != nil {
			return realtime.ServerEvent{}, fmt.Errorf("malformed frame: %w", err)
		}
		switch ev.Type {
		case want:
			return ev, nil
		case realtime.EventError:
			var ee realtime.ErrorEvent
			_ = ev.Into(&ee)
			return realtime.ServerEvent{}, &UpstreamError{Detail: ee.Error}
		}
	}
	return realtime.ServerEvent{}, fmt.Errorf("no %s within %d frames", want, maxHandshakeFrames)
}

type wsConn struct {
	ws  *websocket.Conn
	log *logging.Logger

	events chan realtime.ServerEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	muted     atomic.Bool

	errMu sync.Mutex
	err   error
}

func newWSConn(ws *websocket.Conn, log *logging.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		log:    log,
		events: make(chan realtime.ServerEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) Events() <-chan realtime.ServerEvent { return c.events }

func (c *wsConn) SetMuted(muted bool) { c.muted.Store(muted) }

func (c *wsConn) Muted() bool { return c.muted.Load() }

func (c *wsConn) Send(ctx context.Context, ev realtime.ClientEvent) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("writing %s: %w", ev.Type, err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) readLoop() {
	defer close(c.events)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(err)
				c.log.Warn().Err(err).Msg("realtime connection lost")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := realtime.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if c.muted.Load() && realtime.Classify(ev.Type) == realtime.ClassAudio {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
