package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/credential"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/lifecycle"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/transport"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	mu     sync.Mutex
	sent   []realtime.ClientEvent
	events chan realtime.ServerEvent
	muted  atomic.Bool
	once   sync.Once
	closed atomic.Bool
	err    error
	// gate, when set, holds every Send until it is closed.
	gate  chan struct{}
	sends atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan realtime.ServerEvent, 64)}
}

func (c *fakeConn) Send(_ context.Context, ev realtime.ClientEvent) error {
	c.sends.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.closed.Load() {
		return transport.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return nil
}

func (c *fakeConn) Events() <-chan realtime.ServerEvent { return c.events }
func (c *fakeConn) SetMuted(m bool)                     { c.muted.Store(m) }
func (c *fakeConn) Muted() bool                         { return c.muted.Load() }

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.events)
	})
	return nil
}

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// drop simulates the upstream closing the connection.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) push(t *testing.T, raw string) {
	t.Helper()
	ev, err := realtime.Decode([]byte(raw))
	require.NoError(t, err)
	c.events <- ev
}

func (c *fakeConn) messages() []realtime.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.ClientEvent(nil), c.sent...)
}

func (c *fakeConn) types() []string {
	var out []string
	for _, ev := range c.messages() {
		out = append(out, ev.Type)
	}
	return out
}

// lastUpdate returns the most recent session.update body.
func (c *fakeConn) lastUpdate() *realtime.SessionConfig {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == realtime.ClientSessionUpdate {
			return msgs[i].Session
		}
	}
	return nil
}

func (c *fakeConn) countType(typ string) int {
	n := 0
	for _, ev := range c.messages() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	reqs  []transport.DialRequest
	err   error
	// gate, when set, holds Dial until it is closed or ctx ends.
	gate chan struct{}
	// sendGate is handed to every dialed conn.
	sendGate chan struct{}
	dials    atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, req transport.DialRequest) (transport.Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if req.Setup != nil {
		req.Setup(&req.Session)
	}
	c := newFakeConn()
	c.gate = d.sendGate
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
	d.reqs = append(d.reqs, req)
	return c, nil
}

func (d *fakeDialer) conn(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.conns)
	return d.conns[len(d.conns)-1]
}

// latest returns the most recent conn, or nil before the first dial.
func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) request(t *testing.T) transport.DialRequest {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.reqs)
	return d.reqs[len(d.reqs)-1]
}

// recorder collects bus events.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(_ context.Context, ev bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) of(kind bus.Kind) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) statuses() []domain.SessionStatus {
	var out []domain.SessionStatus
	for _, ev := range r.of(bus.KindStatusChanged) {
		out = append(out, ev.Status)
	}
	return out
}

type fakePrefs struct {
	mu     sync.Mutex
	values map[string]string
}

func (p *fakePrefs) Set(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = map[string]string{}
	}
	p.values[key] = value
	return nil
}

func (p *fakePrefs) get(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[key]
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []domain.SessionRecord
	items [][]transcript.Item
}

func (a *fakeArchive) SaveTranscript(_ context.Context, rec domain.SessionRecord, items []transcript.Item) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, rec)
	a.items = append(a.items, items)
	return nil
}

func (a *fakeArchive) records() []domain.SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.SessionRecord(nil), a.saved...)
}

type failingSink struct{ lifecycle.NullSink }

func (*failingSink) Start(lifecycle.AudioFormat) error { return errors.New("no audio device") }

type harness struct {
	s       *Session
	dialer  *fakeDialer
	events  *recorder
	prefs   *fakePrefs
	archive *fakeArchive
	sink    *lifecycle.NullSink
}

func testAgents() domain.AgentSet {
	return domain.AgentSet{
		{Name: "bayaan", Instructions: "You are Bayaan.", Handoffs: []string{"zahra"}},
		{Name: "zahra", Voice: "sage", Instructions: "You are Zahra.", Handoffs: []string{"bayaan"}},
	}
}

func testConfig() Config {
	return Config{
		Model:           "gpt-realtime",
		Codec:           realtime.CodecPCM16,
		Voice:           "alloy",
		ConnectTimeout:  5 * time.Second,
		PlaybackEnabled: true,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := logging.New(nil, "silent")
	h := &harness{
		dialer:  &fakeDialer{},
		events:  &recorder{},
		prefs:   &fakePrefs{},
		archive: &fakeArchive{},
		sink:    &lifecycle.NullSink{},
	}
	h.s = New(cfg, Deps{
		Bus:       bus.New(log),
		Dialer:    h.dialer,
		Resources: lifecycle.NewManager(h.sink, log),
		Prefs:     h.prefs,
		Archive:   h.archive,
		Log:       log,
	})
	h.s.Bus().SubscribeAll("test", h.events.handle)
	t.Cleanup(h.s.Disconnect)
	return h
}

func request() ConnectRequest {
	return ConnectRequest{Credential: credential.Static("sk-test"), Agents: testAgents(), Scenario: "default"}
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.s.Connect(context.Background(), request()))
	require.Equal(t, domain.StatusConnected, h.s.Status())
	return h.dialer.conn(t)
}
