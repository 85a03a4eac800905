package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/soyeahso/voxlink/internal/logging"
)

// NullSink discards audio. It tracks its state so callers can inspect it.
type NullSink struct {
	mu      sync.Mutex
	started bool
	muted   bool
	paused  bool
	written int
}

func (s *NullSink) Start(AudioFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *NullSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errSinkStopped
	}
	s.written += len(p)
	return nil
}

func (s *NullSink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *NullSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *NullSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// State returns started, muted, paused and the bytes written so far.
func (s *NullSink) State() (started, muted, paused bool, written int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.muted, s.paused, s.written
}

var errSinkStopped = errors.New("audio sink not started")

// CommandSink pipes audio to an external player process. The command line
// may contain {rate}, {bits} and {codec} placeholders.
type CommandSink struct {
	Command string
	log     *logging.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	muted  bool
	paused bool
}

// NewCommandSink creates a sink running command for each session.
func NewCommandSink(command string, log *logging.Logger) *CommandSink {
	return &CommandSink{Command: command, log: log.Sub("player")}
}

func (s *CommandSink) Start(format AudioFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}
	args := strings.Fields(expandFormat(s.Command, format))
	if len(args) == 0 {
		return errors.New("empty player command")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return fmt.Errorf("player %q not found: %w", args[0], err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting player: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.log.Debug().Str("command", args[0]).Int("pid", cmd.Process.Pid).Msg("player started")
	return nil
}

func expandFormat(command string, f AudioFormat) string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(f.SampleRate),
		"{bits}", strconv.Itoa(f.BitsPerSample),
		"{codec}", string(f.Codec),
	)
	return r.Replace(command)
}

func (s *CommandSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return errSinkStopped
	}
	if s.muted || s.paused {
		return nil
	}
	_, err := s.stdin.Write(p)
	return err
}

func (s *CommandSink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *CommandSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *CommandSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Close ends the player and waits for it to exit.
func (s *CommandSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	closeErr := s.stdin.Close()
	waitErr := s.cmd.Wait()
	s.cmd, s.stdin = nil, nil

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		// Players commonly exit non-zero when their input is cut short.
		waitErr = nil
	}
	return errors.Join(closeErr, waitErr)
}
