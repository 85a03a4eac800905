// Package lifecycle acquires and releases the per-session audio resources:
// playback sink, remote-stream recorder and wake lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/realtime"
)

// AudioFormat describes the raw remote audio stream.
type AudioFormat struct {
	Codec         realtime.Codec
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// FormatFor returns the stream format produced by a codec.
func FormatFor(c realtime.Codec) AudioFormat {
	if c == "" {
		c = realtime.CodecPCM16
	}
	return AudioFormat{
		Codec:         c,
		SampleRate:    c.SampleRate(),
		BitsPerSample: c.BitsPerSample(),
		Channels:      1,
	}
}

// Sink plays remote audio.
type Sink interface {
	Start(format AudioFormat) error
	Write(p []byte) error
	SetMuted(muted bool)
	Pause()
	Resume()
	Close() error
}

// Recorder captures the remote audio stream of one session.
type Recorder interface {
	Start(sessionID string, format AudioFormat) error
	Write(p []byte) error
	Stop() error
}

// WakeLock keeps the host awake while a session is live.
type WakeLock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Manager ties resources to the session status. Activate runs on CONNECTED,
// Deactivate on every teardown path.
type Manager struct {
	sink     Sink
	recorder Recorder
	wakeLock WakeLock
	log      *logging.Logger

	mu       sync.Mutex
	active   bool
	muted    bool
	playback bool
	release  []func() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder records the remote stream of every session.
func WithRecorder(r Recorder) Option { return func(m *Manager) { m.recorder = r } }

// WithWakeLock holds a wake lock while a session is active.
func WithWakeLock(w WakeLock) Option { return func(m *Manager) { m.wakeLock = w } }

// NewManager creates a manager playing through sink. A nil sink discards audio.
func NewManager(sink Sink, log *logging.Logger, opts ...Option) *Manager {
	if sink == nil {
		sink = &NullSink{}
	}
	m := &Manager{
		sink:     sink,
		log:      log.Sub("lifecycle"),
		playback: true,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Activate acquires the session resources in order: wake lock, recorder,
// sink. If any step fails, everything acquired so far is released before the
// error is returned. The current mute state is re-applied to the sink.
func (m *Manager) Activate(ctx context.Context, sessionID string, format AudioFormat) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil
	}

	var acquired []func() error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activating audio resources: panic: %v", r)
		}
		if err != nil {
			if rbErr := unwind(acquired); rbErr != nil {
				m.log.Warn().Err(rbErr).Msg("rollback after failed activation")
			}
		}
	}()

	if m.wakeLock != nil {
		if err := m.wakeLock.Acquire(ctx); err != nil {
			return fmt.Errorf("acquiring wake lock: %w", err)
		}
		acquired = append(acquired, m.wakeLock.Release)
	}
	if m.recorder != nil {
		if err := m.recorder.Start(sessionID, format); err != nil {
			return fmt.Errorf("starting recorder: %w", err)
		}
		acquired = append(acquired, m.recorder.Stop)
	}
	if err := m.sink.Start(format); err != nil {
		return fmt.Errorf("starting audio sink: %w", err)
	}
	acquired = append(acquired, m.sink.Close)

	m.sink.SetMuted(m.muted)
	if m.playback {
		m.sink.Resume()
	} else {
		m.sink.Pause()
	}

	m.release = acquired
	m.active = true
	m.log.Debug().Str("session", sessionID).Int("rate", format.SampleRate).Bool("muted", m.muted).Msg("audio resources acquired")
	return nil
}

// Deactivate releases everything Activate acquired, in reverse order. It is
// safe to call at any time and more than once.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}
	release := m.release
	m.release = nil
	m.active = false

	err := unwind(release)
	if err != nil {
		m.log.Warn().Err(err).Msg("releasing audio resources")
	} else {
		m.log.Debug().Msg("audio resources released")
	}
	return err
}

// unwind calls each release func in reverse order and joins the errors.
// A panicking release does not prevent the rest from running.
func unwind(fns []func() error) error {
	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		errs = append(errs, safeCall(fns[i]))
	}
	return errors.Join(errs...)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// HandleAudio routes one chunk of remote audio. The recorder always
// receives it; the sink only when it is playing.
func (m *Manager) HandleAudio(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active || len(p) == 0 {
		return
	}
	if m.recorder != nil {
		if err := m.recorder.Write(p); err != nil {
			m.log.Warn().Err(err).Msg("recorder write failed")
		}
	}
	if m.muted || !m.playback {
		return
	}
	if err := m.sink.Write(p); err != nil {
		m.log.Warn().Err(err).Msg("audio sink write failed")
	}
}

// SetMuted mutes or unmutes the sink. The state is remembered and
// re-applied by the next Activate, so it may be set before a session exists.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.muted = muted
	if m.active {
		m.sink.SetMuted(muted)
	}
}

// SetPlayback pauses and mutes the sink when disabled, and resumes and
// unmutes it when enabled.
func (m *Manager) SetPlayback(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.playback = enabled
	m.muted = !enabled
	if !m.active {
		return
	}
	m.sink.SetMuted(!enabled)
	if enabled {
		m.sink.Resume()
	} else {
		m.sink.Pause()
	}
}

// Active reports whether session resources are held.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Muted reports the remembered mute state.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}
