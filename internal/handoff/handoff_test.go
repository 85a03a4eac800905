package handoff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/logging"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		want    string
		wantErr error
	}{
		{"simple", "transfer_to_zahra", "zahra", nil},
		{"underscored", "transfer_to_customer_service", "customer_service", nil},
		{"mixed case", "transfer_to_Zahra", "zahra", nil},
		{"digits", "transfer_to_agent2", "agent2", nil},
		{"not a transfer", "lookup_order", "", ErrNotTransfer},
		{"prefix only", "transfer_to_", "", ErrMalformedToolName},
		{"bad chars", "transfer_to_za hra", "", ErrMalformedToolName},
		{"punctuation", "transfer_to_zahra!", "", ErrMalformedToolName},
		{"empty", "", "", ErrNotTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.tool)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToolNameRoundTrip(t *testing.T) {
	for _, name := range []string{"zahra", "Customer Service", "front-desk"} {
		target, err := ParseTarget(ToolName(name))
		require.NoError(t, err)
		assert.Equal(t, Normalize(name), target)
	}
	assert.Equal(t, "transfer_to_customer_service", ToolName("Customer Service"))
}

func TestTools(t *testing.T) {
	tools := Tools(domain.Agent{Name: "bayaan", Handoffs: []string{"zahra", "omar"}})
	require.Len(t, tools, 2)
	assert.Equal(t, "transfer_to_zahra", tools[0].Name)
	assert.Equal(t, "transfer_to_omar", tools[1].Name)
	assert.Equal(t, "object", tools[0].Parameters["type"])

	assert.Empty(t, Tools(domain.Agent{Name: "solo"}))
}

func TestRouterResolve(t *testing.T) {
	r := NewRouter(logging.New(nil, "silent"))
	agents := domain.AgentSet{{Name: "bayaan"}, {Name: "Zahra", Voice: "coral"}}

	h, err := r.Resolve("transfer_to_zahra", "call_1", agents, "bayaan")
	require.NoError(t, err)
	assert.Equal(t, "bayaan", h.From)
	assert.Equal(t, "Zahra", h.To.Name)
	assert.Equal(t, "coral", h.To.Voice)
	assert.Equal(t, "call_1", h.CallID)
}

func TestRouterUnknownTarget(t *testing.T) {
	r := NewRouter(logging.New(nil, "silent"))
	agents := domain.AgentSet{{Name: "bayaan"}, {Name: "zahra"}}

	_, err := r.Resolve("transfer_to_omar", "c", agents, "bayaan")
	var unknown *UnknownTargetError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "omar", unknown.Target)
	assert.Equal(t, []string{"bayaan", "zahra"}, unknown.Known)
	assert.Contains(t, err.Error(), "omar")
}

func TestRouterNonTransfer(t *testing.T) {
	r := NewRouter(logging.New(nil, "silent"))
	_, err := r.Resolve("get_weather", "c", domain.AgentSet{{Name: "a"}}, "a")
	assert.ErrorIs(t, err, ErrNotTransfer)
}
