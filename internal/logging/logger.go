// Package logging wraps zerolog. A root logger and every child derived from
// it share one level, which can be changed at runtime.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger scoped to a subsystem.
type Logger struct {
	zl    zerolog.Logger
	level *atomic.Int32
}

// Options selects the sink and format of a root logger.
type Options struct {
	Level  string // silent, fatal, error, warn, info, debug or trace
	Format string // pretty or json
	File   string // optional JSON copy of every record
}

// New creates a root logger. A nil w means pretty output on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = consoleWriter(os.Stderr)
	}
	lvl := new(atomic.Int32)
	lvl.Store(int32(parseLevel(level)))

	lw, ok := w.(zerolog.LevelWriter)
	if !ok {
		lw = zerolog.LevelWriterAdapter{Writer: w}
	}
	zl := zerolog.New(&gate{w: lw, level: lvl}).
		With().Timestamp().Logger()
	return &Logger{zl: zl, level: lvl}
}

// Open builds a root logger from Options. The closer releases the log file.
func Open(opts Options) (*Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	if opts.Format != "json" {
		out = consoleWriter(os.Stderr)
	}
	if opts.File == "" {
		return New(out, opts.Level), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(zerolog.MultiLevelWriter(out, f), opts.Level), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
}

// SetLevel changes the level of this logger, its parent and all siblings.
// Unknown names fall back to info.
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(parseLevel(level)))
}

// Level returns the shared level name.
func (l *Logger) Level() string {
	lvl := zerolog.Level(l.level.Load())
	if lvl == zerolog.Disabled {
		return "silent"
	}
	return lvl.String()
}

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", subsystem).Logger(), level: l.level}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger(), level: l.level}
}

func (l *Logger) Trace() *zerolog.Event { return l.event(zerolog.TraceLevel) }
func (l *Logger) Debug() *zerolog.Event { return l.event(zerolog.DebugLevel) }
func (l *Logger) Info() *zerolog.Event  { return l.event(zerolog.InfoLevel) }
func (l *Logger) Warn() *zerolog.Event  { return l.event(zerolog.WarnLevel) }
func (l *Logger) Error() *zerolog.Event { return l.event(zerolog.ErrorLevel) }

// Fatal logs and exits regardless of level.
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// event returns nil below the shared level; zerolog treats a nil *Event as
// a no-op.
func (l *Logger) event(lvl zerolog.Level) *zerolog.Event {
	if !l.enabled(lvl) {
		return nil
	}
	return l.zl.WithLevel(lvl)
}

func (l *Logger) enabled(lvl zerolog.Level) bool {
	floor := zerolog.Level(l.level.Load())
	return floor != zerolog.Disabled && lvl >= floor
}

// gate drops records below the shared level. Events built before a level
// change are filtered here.
type gate struct {
	w     zerolog.LevelWriter
	level *atomic.Int32
}

func (g *gate) Write(p []byte) (int, error) {
	return g.w.Write(p)
}

func (g *gate) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	floor := zerolog.Level(g.level.Load())
	if floor == zerolog.Disabled || (lvl < floor && lvl != zerolog.NoLevel) {
		return len(p), nil
	}
	return g.w.WriteLevel(lvl, p)
}

func parseLevel(s string) zerolog.Level {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "silent", "off":
		return zerolog.Disabled
	case "", "panic":
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
