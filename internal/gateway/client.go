package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/soyeahso/voxlink/internal/logging"
)

// ErrClientClosed is returned when sending to a closed client.
var ErrClientClosed = errors.New("client connection closed")

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second

	responseQueue = 16
	eventQueue    = 256
)

// socket is the part of *websocket.Conn a client uses.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is an authenticated UI connection. Writes go through a single
// writer goroutine: responses are never dropped, events are dropped when
// the client falls behind.
type Client struct {
	ConnID      string
	Info        ClientInfo
	AuthResult  AuthResult
	ConnectedAt time.Time

	conn      socket
	limiter   *rate.Limiter
	responses chan []byte
	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	log       *logging.Logger
}

// NewClient wraps an authenticated connection and starts its writer. A nil
// limiter disables request rate limiting.
func NewClient(conn socket, info ClientInfo, auth AuthResult, limiter *rate.Limiter, log *logging.Logger) *Client {
	c := newClient(conn, limiter, log)
	c.Info = info
	c.AuthResult = auth
	go c.writeLoop()
	return c
}

func newClient(conn socket, limiter *rate.Limiter, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		limiter:     limiter,
		responses:   make(chan []byte, responseQueue),
		events:      make(chan []byte, eventQueue),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Allow reports whether the client may issue another request now.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Dropped returns how many events were discarded for this client.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Send queues a frame that must be delivered, waiting for queue space.
func (c *Client) Send(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.responses <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// offer queues an event frame without blocking.
func (c *Client) offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- data:
		return true
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.log.Warn().Str("connId", c.ConnID).Int64("dropped", n).Msg("client too slow, dropping events")
		}
		return false
	}
}

// Respond sends a success response.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response.
func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame reads the next frame. Only the read loop calls it.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// writeLoop drains queued responses ahead of events and keeps the
// connection alive with pings. A write failure closes the client.
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case data := <-c.responses:
			if !c.write(data) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			return
		case data := <-c.responses:
			if !c.write(data) {
				return
			}
		case data := <-c.events:
			if !c.write(data) {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Client) write(data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.fail(err)
		return false
	}
	return true
}

func (c *Client) fail(err error) {
	select {
	case <-c.done:
	default:
		c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("write failed")
		c.Close()
	}
}

// ClientRegistry tracks connected UI clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("clients", n).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast queues an event for every client and returns how many accepted
// it. It never blocks on a slow client.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return 0
	}
	data, err := json.Marshal(f)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for _, c := range r.clients {
		if c.offer(data) {
			sent++
		}
	}
	return sent
}

// CloseAll closes and removes every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
