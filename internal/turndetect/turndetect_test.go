package turndetect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/voxlink/internal/realtime"
)

func payloadJSON(t *testing.T, td *realtime.TurnDetection) string {
	t.Helper()
	return string(realtime.EncodeTurnDetection(td))
}

func ptr[T any](v T) *T { return &v }

func TestComputeDecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     string
	}{
		{
			name:     "ptt overrides server vad",
			settings: Settings{PushToTalk: true, Mode: ModeServerVAD, Threshold: 0.5, SilenceDurationMs: 200},
			want:     `null`,
		},
		{
			name:     "ptt overrides semantic vad",
			settings: Settings{PushToTalk: true, Mode: ModeSemanticVAD, Eagerness: "high"},
			want:     `null`,
		},
		{
			name:     "ptt overrides disabled",
			settings: Settings{PushToTalk: true, Mode: ModeDisabled},
			want:     `null`,
		},
		{
			name:     "disabled",
			settings: Settings{Mode: ModeDisabled, Threshold: 0.9},
			want:     `null`,
		},
		{
			name:     "semantic",
			settings: Settings{Mode: ModeSemanticVAD, Eagerness: "low", Threshold: 0.3, SilenceDurationMs: 900},
			want:     `{"type":"semantic_vad","eagerness":"low","create_response":true}`,
		},
		{
			name:     "semantic default eagerness",
			settings: Settings{Mode: ModeSemanticVAD},
			want:     `{"type":"semantic_vad","eagerness":"auto","create_response":true}`,
		},
		{
			name:     "server vad",
			settings: Settings{Mode: ModeServerVAD, Threshold: 0.9, SilenceDurationMs: 500},
			want:     `{"type":"server_vad","threshold":0.9,"prefix_padding_ms":300,"silence_duration_ms":500,"create_response":true}`,
		},
		{
			name:     "server vad zero values are still sent",
			settings: Settings{Mode: ModeServerVAD},
			want:     `{"type":"server_vad","threshold":0,"prefix_padding_ms":300,"silence_duration_ms":0,"create_response":true}`,
		},
		{
			name:     "unknown mode falls through to server vad",
			settings: Settings{Mode: "weird", Threshold: 0.1, SilenceDurationMs: 10},
			want:     `{"type":"server_vad","threshold":0.1,"prefix_padding_ms":300,"silence_duration_ms":10,"create_response":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, payloadJSON(t, Compute(tt.settings)))
		})
	}
}

// Exhaustive check that push-to-talk wins over every stored preference.
func TestComputePTTAlwaysDisables(t *testing.T) {
	for _, mode := range []Mode{ModeServerVAD, ModeSemanticVAD, ModeDisabled, ""} {
		for _, threshold := range []float64{0, 0.5, 1} {
			for _, silence := range []int{0, 500} {
				for _, eager := range []string{"", "low", "auto"} {
					s := Settings{PushToTalk: true, Mode: mode, Threshold: threshold, SilenceDurationMs: silence, Eagerness: eager}
					assert.Nil(t, Compute(s))
				}
			}
		}
	}
}

func TestComputeIsPure(t *testing.T) {
	s := Settings{Mode: ModeServerVAD, Threshold: 0.4, SilenceDurationMs: 300}
	a, b := Compute(s), Compute(s)
	*a.Threshold = 0.99
	assert.Equal(t, 0.4, *b.Threshold)
	assert.Equal(t, 0.4, s.Threshold)
}

func TestPTTRestoresStoredPreference(t *testing.T) {
	c := New(Settings{Mode: ModeSemanticVAD, Eagerness: "medium"})
	before := payloadJSON(t, c.Payload())

	_, changed, err := c.Apply(Update{PushToTalk: ptr(true)})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := json.Marshal(realtime.SessionUpdate(realtime.SessionConfig{TurnDetection: realtime.EncodeTurnDetection(c.Payload())}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"turn_detection":null`)
	assert.Equal(t, ModeSemanticVAD, c.Settings().Mode)

	_, changed, err = c.Apply(Update{PushToTalk: ptr(false)})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.JSONEq(t, before, payloadJSON(t, c.Payload()))
}

func TestApply(t *testing.T) {
	c := New(Settings{})
	assert.Equal(t, ModeServerVAD, c.Settings().Mode)

	s, changed, err := c.Apply(Update{Threshold: ptr(0.7), SilenceDurationMs: ptr(800)})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0.7, s.Threshold)
	assert.Equal(t, 800, s.SilenceDurationMs)

	_, changed, err = c.Apply(Update{Threshold: ptr(0.7)})
	require.NoError(t, err)
	assert.False(t, changed, "same value is not a change")

	_, changed, err = c.Apply(Update{})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyRejectsInvalid(t *testing.T) {
	c := New(Settings{Mode: ModeServerVAD, Threshold: 0.5})

	_, _, err := c.Apply(Update{Mode: ptr(Mode("client_vad"))})
	assert.Error(t, err)
	_, _, err = c.Apply(Update{Threshold: ptr(1.5), PushToTalk: ptr(true)})
	assert.Error(t, err)
	_, _, err = c.Apply(Update{SilenceDurationMs: ptr(-1)})
	assert.Error(t, err)

	s := c.Settings()
	assert.Equal(t, 0.5, s.Threshold)
	assert.False(t, s.PushToTalk, "a rejected update applies nothing")
}

func TestPlanAgentSwitch(t *testing.T) {
	c := New(Settings{Mode: ModeServerVAD, Threshold: 0.9, SilenceDurationMs: 500})

	manual := c.PlanAgentSwitch(false)
	assert.True(t, manual.Greet)
	require.NotNil(t, manual.TurnDetection)
	assert.Equal(t, "server_vad", manual.TurnDetection.Type)

	assert.False(t, c.PlanAgentSwitch(true).Greet)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeServerVAD, m)

	m, err = ParseMode("disabled")
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, m)

	_, err = ParseMode("push")
	assert.Error(t, err)
}
