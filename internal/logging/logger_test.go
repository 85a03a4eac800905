package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubsystemFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")

	log.Sub("transport").With("session", "abc123").Info().Msg("dialing")
	out := buf.String()
	assert.Contains(t, out, "dialing")
	assert.Contains(t, out, `"subsystem":"transport"`)
	assert.Contains(t, out, `"session":"abc123"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"d", "i", "w", "e"}},
		{"info", []string{"i", "w", "e"}},
		{"warn", []string{"w", "e"}},
		{"silent", nil},
		{"bogus", []string{"i", "w", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, tt.level)
			log.Trace().Msg("t")
			log.Debug().Msg("d")
			log.Info().Msg("i")
			log.Warn().Msg("w")
			log.Error().Msg("e")

			var got []string
			for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
				if len(line) == 0 {
					continue
				}
				for _, m := range []string{"t", "d", "i", "w", "e"} {
					if bytes.Contains(line, []byte(`"message":"`+m+`"`)) {
						got = append(got, m)
					}
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, "warn")
	child := root.Sub("session")

	child.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	root.SetLevel("debug")
	assert.Equal(t, "debug", child.Level())
	child.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	child.SetLevel("silent")
	assert.Equal(t, "silent", root.Level())
	buf.Reset()
	root.Error().Msg("muted")
	assert.Empty(t, buf.String())
}

func TestEventBuiltBeforeLevelChange(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")

	ev := log.Debug()
	log.SetLevel("error")
	ev.Msg("late")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{" INFO ", zerolog.InfoLevel},
		{"nope", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestOpenWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "voxlink.log")
	log, closer, err := Open(Options{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	log.Info().Str("status", "CONNECTED").Msg("status changed")
	log.Debug().Msg("filtered")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"CONNECTED"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestOpenWithoutFile(t *testing.T) {
	log, closer, err := Open(Options{Level: "silent"})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NoError(t, closer.Close())
	assert.NotNil(t, New(nil, "info"))
}
