package lifecycle

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/realtime"
)

// journal records resource calls in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakeSink struct {
	j        *journal
	startErr error
	closeErr error
	muted    bool
	paused   bool
	data     []byte
}

func (s *fakeSink) Start(AudioFormat) error { s.j.add("sink.start"); return s.startErr }
func (s *fakeSink) Write(p []byte) error    { s.data = append(s.data, p...); return nil }
func (s *fakeSink) SetMuted(m bool)         { s.muted = m }
func (s *fakeSink) Pause()                  { s.paused = true }
func (s *fakeSink) Resume()                 { s.paused = false }
func (s *fakeSink) Close() error            { s.j.add("sink.close"); return s.closeErr }

type fakeRecorder struct {
	j        *journal
	startErr error
	panicOn  bool
	data     []byte
}

func (r *fakeRecorder) Start(id string, _ AudioFormat) error {
	if r.panicOn {
		panic("recorder exploded")
	}
	r.j.add("rec.start:" + id)
	return r.startErr
}
func (r *fakeRecorder) Write(p []byte) error { r.data = append(r.data, p...); return nil }
func (r *fakeRecorder) Stop() error          { r.j.add("rec.stop"); return nil }

type fakeLock struct {
	j          *journal
	releaseErr error
}

func (l *fakeLock) Acquire(context.Context) error { l.j.add("lock.acquire"); return nil }
func (l *fakeLock) Release() error                { l.j.add("lock.release"); return l.releaseErr }

func newTestManager(t *testing.T) (*Manager, *fakeSink, *fakeRecorder, *fakeLock, *journal) {
	t.Helper()
	j := &journal{}
	sink := &fakeSink{j: j}
	rec := &fakeRecorder{j: j}
	lock := &fakeLock{j: j}
	m := NewManager(sink, logging.New(nil, "silent"), WithRecorder(rec), WithWakeLock(lock))
	return m, sink, rec, lock, j
}

func TestActivateDeactivateOrder(t *testing.T) {
	m, _, _, _, j := newTestManager(t)

	require.NoError(t, m.Activate(context.Background(), "s1", FormatFor(realtime.CodecPCM16)))
	assert.True(t, m.Active())
	require.NoError(t, m.Deactivate())
	assert.False(t, m.Active())

	assert.Equal(t, []string{
		"lock.acquire", "rec.start:s1", "sink.start",
		"sink.close", "rec.stop", "lock.release",
	}, j.list())
}

func TestActivateTwiceIsNoop(t *testing.T) {
	m, _, _, _, j := newTestManager(t)
	require.NoError(t, m.Activate(context.Background(), "s1", AudioFormat{}))
	require.NoError(t, m.Activate(context.Background(), "s2", AudioFormat{}))
	assert.Len(t, j.list(), 3)
}

func TestDeactivateIdempotent(t *testing.T) {
	m, _, _, _, j := newTestManager(t)
	require.NoError(t, m.Deactivate())
	assert.Empty(t, j.list())

	require.NoError(t, m.Activate(context.Background(), "s1", AudioFormat{}))
	require.NoError(t, m.Deactivate())
	require.NoError(t, m.Deactivate())
	assert.Len(t, j.list(), 6)
}

func TestActivateRollsBackOnFailure(t *testing.T) {
	m, sink, _, _, j := newTestManager(t)
	sink.startErr = errors.New("no audio device")

	err := m.Activate(context.Background(), "s1", AudioFormat{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio device")
	assert.False(t, m.Active())
	assert.Equal(t, []string{
		"lock.acquire", "rec.start:s1", "sink.start",
		"rec.stop", "lock.release",
	}, j.list())

	// A later teardown has nothing left to release.
	require.NoError(t, m.Deactivate())
	assert.Len(t, j.list(), 5)
}

func TestActivateRollsBackOnPanic(t *testing.T) {
	m, _, rec, _, j := newTestManager(t)
	rec.panicOn = true

	err := m.Activate(context.Background(), "s1", AudioFormat{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorder exploded")
	assert.Equal(t, []string{"lock.acquire", "lock.release"}, j.list())
	assert.False(t, m.Active())
}

func TestDeactivateJoinsErrors(t *testing.T) {
	m, sink, _, lock, j := newTestManager(t)
	sink.closeErr = errors.New("sink stuck")
	lock.releaseErr = errors.New("lock stuck")

	require.NoError(t, m.Activate(context.Background(), "s1", AudioFormat{}))
	err := m.Deactivate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink stuck")
	assert.Contains(t, err.Error(), "lock stuck")
	// Every release ran despite the failures.
	assert.Contains(t, j.list(), "rec.stop")
	assert.False(t, m.Active())
}

func TestMuteBeforeActivateIsReapplied(t *testing.T) {
	m, sink, _, _, _ := newTestManager(t)
	m.SetPlayback(false)
	assert.True(t, m.Muted())

	require.NoError(t, m.Activate(context.Background(), "s1", AudioFormat{}))
	assert.True(t, sink.muted)
	assert.True(t, sink.paused)

	m.SetPlayback(true)
	assert.False(t, sink.muted)
	assert.False(t, sink.paused)
}

func TestHandleAudioRouting(t *testing.T) {
	m, sink, rec, _, _ := newTestManager(t)

	m.HandleAudio([]byte{1, 2})
	assert.Empty(t, rec.data, "inactive manager drops audio")

	require.NoError(t, m.Activate(context.Background(), "s1", AudioFormat{}))
	m.HandleAudio([]byte{1, 2})
	m.SetMuted(true)
	m.HandleAudio([]byte{3})

	assert.Equal(t, []byte{1, 2, 3}, rec.data, "recorder captures while muted")
	assert.Equal(t, []byte{1, 2}, sink.data)
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		codec realtime.Codec
		rate  int
		bits  int
	}{
		{realtime.CodecPCM16, 24000, 16},
		{"", 24000, 16},
		{realtime.CodecULaw, 8000, 8},
		{realtime.CodecALaw, 8000, 8},
	}
	for _, tt := range tests {
		t.Run(string(tt.codec), func(t *testing.T) {
			f := FormatFor(tt.codec)
			assert.Equal(t, tt.rate, f.SampleRate)
			assert.Equal(t, tt.bits, f.BitsPerSample)
			assert.Equal(t, 1, f.Channels)
		})
	}
}

func TestWAVRecorder(t *testing.T) {
	dir := t.TempDir()
	r := NewWAVRecorder(filepath.Join(dir, "rec"))

	require.NoError(t, r.Start("sess1", FormatFor(realtime.CodecULaw)))
	require.Error(t, r.Start("sess2", FormatFor(realtime.CodecULaw)))
	require.NoError(t, r.Write([]byte{1, 2, 3, 4}))
	require.NoError(t, r.Write([]byte{5, 6}))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+6)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(36+6), binary.LittleEndian.Uint32(data[4:]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint16(wavMuLaw), binary.LittleEndian.Uint16(data[20:]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:]))
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(data[34:]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(data[40:]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data[wavHeaderSize:])
}

func TestWAVRecorderWriteWhenIdle(t *testing.T) {
	r := NewWAVRecorder(t.TempDir())
	assert.NoError(t, r.Write([]byte{1}))
}

func TestNullSink(t *testing.T) {
	s := &NullSink{}
	assert.Error(t, s.Write([]byte{1}))
	require.NoError(t, s.Start(AudioFormat{}))
	require.NoError(t, s.Write([]byte{1, 2}))
	s.SetMuted(true)
	s.Pause()

	started, muted, paused, written := s.State()
	assert.True(t, started)
	assert.True(t, muted)
	assert.True(t, paused)
	assert.Equal(t, 2, written)

	require.NoError(t, s.Close())
	started, _, _, _ = s.State()
	assert.False(t, started)
}

func TestNewManagerNilSink(t *testing.T) {
	m := NewManager(nil, logging.New(nil, "silent"))
	require.NoError(t, m.Activate(context.Background(), "s", AudioFormat{}))
	m.HandleAudio([]byte{1})
	require.NoError(t, m.Deactivate())
}

func TestExpandFormat(t *testing.T) {
	got := expandFormat("aplay -r {rate} -b {bits} -c {codec}", FormatFor(realtime.CodecALaw))
	assert.Equal(t, "aplay -r 8000 -b 8 -c g711_alaw", got)
}

func TestCommandSink(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	s := NewCommandSink("cat", logging.New(nil, "silent"))
	assert.Error(t, s.Write([]byte{1}))

	require.NoError(t, s.Start(FormatFor(realtime.CodecPCM16)))
	require.NoError(t, s.Write([]byte("audio")))
	s.Pause()
	require.NoError(t, s.Write([]byte("dropped")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestCommandSinkMissingPlayer(t *testing.T) {
	s := NewCommandSink("definitely-not-a-player-binary", logging.New(nil, "silent"))
	assert.Error(t, s.Start(AudioFormat{}))
}

func TestCommandWakeLock(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	w := &CommandWakeLock{Args: []string{"sleep", "60"}}
	require.NoError(t, w.Acquire(context.Background()))
	require.NoError(t, w.Acquire(context.Background()))
	require.NoError(t, w.Release())
	require.NoError(t, w.Release())
}

func TestCommandWakeLockCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &CommandWakeLock{Args: []string{"sleep", "60"}}
	assert.ErrorIs(t, w.Acquire(ctx), context.Canceled)
}

func TestNoopWakeLock(t *testing.T) {
	var w WakeLock = NoopWakeLock{}
	assert.NoError(t, w.Acquire(context.Background()))
	assert.NoError(t, w.Release())
}
