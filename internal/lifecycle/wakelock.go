package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/soyeahso/voxlink/internal/logging"
)

// NoopWakeLock does nothing.
type NoopWakeLock struct{}

func (NoopWakeLock) Acquire(context.Context) error { return nil }
func (NoopWakeLock) Release() error                { return nil }

// CommandWakeLock holds an inhibitor process for the lifetime of a session,
// by default systemd-inhibit blocking idle and sleep.
type CommandWakeLock struct {
	Args []string
	log  *logging.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// DefaultInhibitArgs blocks idle and sleep until the process is killed.
var DefaultInhibitArgs = []string{
	"systemd-inhibit", "--what=idle:sleep", "--who=voxlink",
	"--why=voice session active", "--mode=block", "sleep", "infinity",
}

// NewWakeLock returns a CommandWakeLock when the inhibitor is installed,
// NoopWakeLock otherwise.
func NewWakeLock(log *logging.Logger) WakeLock {
	if _, err := exec.LookPath(DefaultInhibitArgs[0]); err != nil {
		log.Sub("wakelock").Debug().Msg("systemd-inhibit not found; wake lock disabled")
		return NoopWakeLock{}
	}
	return &CommandWakeLock{Args: DefaultInhibitArgs, log: log.Sub("wakelock")}
}

func (w *CommandWakeLock) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd != nil {
		return nil
	}
	if len(w.Args) == 0 {
		return errors.New("empty wake lock command")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(w.Args[0], w.Args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", w.Args[0], err)
	}
	w.cmd = cmd
	if w.log != nil {
		w.log.Debug().Int("pid", cmd.Process.Pid).Msg("wake lock acquired")
	}
	return nil
}

func (w *CommandWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd == nil {
		return nil
	}
	cmd := w.cmd
	w.cmd = nil
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("releasing wake lock: %w", err)
	}
	_ = cmd.Wait()
	return nil
}
