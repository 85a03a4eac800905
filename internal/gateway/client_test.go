package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/logging"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeSocket records written text frames.
type fakeSocket struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	block   chan struct{}
	fail    error
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	return 0, nil, io.EOF
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error          { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, 0, len(f.written))
	for _, b := range f.written {
		var fr Frame
		if json.Unmarshal(b, &fr) == nil {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry(testLog())
	require.NotNil(t, reg)
	assert.Equal(t, 0, reg.Count())

	a := newClient(nil, nil, testLog())
	a.Info = ClientInfo{ID: "client-1"}
	reg.Add(a)
	reg.Add(newClient(nil, nil, testLog()))
	assert.Equal(t, 2, reg.Count())

	got, ok := reg.Get(a.ConnID)
	require.True(t, ok)
	assert.Equal(t, "client-1", got.Info.ID)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	reg.Remove(a.ConnID)
	reg.Remove("missing")
	assert.Equal(t, 1, reg.Count())

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
}

func TestClientDeliversResponsesAndEvents(t *testing.T) {
	sock := &fakeSocket{}
	c := NewClient(sock, ClientInfo{ID: "ui"}, AuthResult{OK: true}, nil, testLog())
	defer c.Close()

	reg := NewClientRegistry(testLog())
	reg.Add(c)

	require.NoError(t, c.Respond("req-1", map[string]string{"status": "ok"}))
	assert.Equal(t, 1, reg.Broadcast("session:status", map[string]int{"status": 2}, 7))

	require.Eventually(t, func() bool { return len(sock.frames()) == 2 }, time.Second, 5*time.Millisecond)
	frames := sock.frames()
	assert.Equal(t, FrameTypeResponse, frames[0].Type)
	assert.Equal(t, "req-1", frames[0].ID)
	assert.Equal(t, FrameTypeEvent, frames[1].Type)
	assert.Equal(t, "session:status", frames[1].Event)
	assert.Equal(t, int64(7), frames[1].Seq)
}

func TestClientDropsEventsWhenBehind(t *testing.T) {
	sock := &fakeSocket{block: make(chan struct{})}
	c := NewClient(sock, ClientInfo{}, AuthResult{OK: true}, nil, testLog())
	defer c.Close()

	reg := NewClientRegistry(testLog())
	reg.Add(c)

	sent := 0
	for i := 0; i < eventQueue+50; i++ {
		sent += reg.Broadcast("transcript:item_updated", i, int64(i))
	}
	assert.Less(t, sent, eventQueue+50)
	assert.Positive(t, c.Dropped())

	close(sock.block)
	assert.Eventually(t, func() bool { return len(sock.frames()) == sent }, time.Second, 5*time.Millisecond)
}

func TestClientWriteFailureCloses(t *testing.T) {
	sock := &fakeSocket{fail: errors.New("broken pipe")}
	c := NewClient(sock, ClientInfo{}, AuthResult{OK: true}, nil, testLog())

	require.NoError(t, c.Respond("req-1", nil))
	assert.Eventually(t, sock.isClosed, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Send(Frame{Type: FrameTypeEvent}), ErrClientClosed)
}

func TestClientSendAfterClose(t *testing.T) {
	c := newClient(nil, nil, testLog())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(Frame{Type: FrameTypeEvent}), ErrClientClosed)
	assert.False(t, c.offer([]byte("{}")))
}

func TestClientAllow(t *testing.T) {
	assert.True(t, newClient(nil, nil, testLog()).Allow())

	c := newClient(nil, rate.NewLimiter(rate.Limit(0.001), 2), testLog())
	assert.True(t, c.Allow())
	assert.True(t, c.Allow())
	assert.False(t, c.Allow())
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		bind string
		port int
		host string
		want string
	}{
		{"loopback", "loopback", 18790, "", "127.0.0.1:18790"},
		{"lan", "lan", 9999, "", "0.0.0.0:9999"},
		{"custom_default", "custom", 3000, "", "0.0.0.0:3000"},
		{"custom_host", "custom", 3000, "10.0.0.1", "10.0.0.1:3000"},
		{"custom_ipv6", "custom", 3000, "::1", "[::1]:3000"},
		{"unknown_fallback", "whatever", 5000, "", "127.0.0.1:5000"},
		{"empty_fallback", "", 5000, "", "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GatewayConfig{Bind: tt.bind, Port: tt.port, CustomBindHost: tt.host}
			assert.Equal(t, tt.want, resolveBindAddr(cfg))
		})
	}
}
