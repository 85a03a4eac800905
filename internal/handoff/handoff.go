// Package handoff resolves agent-to-agent transfers signalled through
// transfer_to_<agent> tool calls.
package handoff

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/logging"
)

// TransferPrefix marks a tool call as a handoff.
const TransferPrefix = "transfer_to_"

var (
	// ErrNotTransfer is returned for tool names without the transfer prefix.
	ErrNotTransfer = errors.New("handoff: not a transfer tool")
	// ErrMalformedToolName is returned when the target part is empty or invalid.
	ErrMalformedToolName = errors.New("handoff: malformed transfer tool name")
)

// UnknownTargetError reports a transfer to an agent outside the current set.
type UnknownTargetError struct {
	Target string
	Known  []string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("handoff: unknown target agent %q (known: %s)", e.Target, strings.Join(e.Known, ", "))
}

// Normalize lowercases a name and folds spaces and hyphens to underscores,
// the form agent names take inside tool names.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, name)
}

// ToolName returns the transfer tool name for an agent.
func ToolName(agent string) string {
	return TransferPrefix + Normalize(agent)
}

// IsTransfer reports whether a tool name carries the transfer prefix.
func IsTransfer(toolName string) bool {
	return strings.HasPrefix(toolName, TransferPrefix)
}

// ParseTarget extracts the normalized target agent from a tool name.
func ParseTarget(toolName string) (string, error) {
	if !IsTransfer(toolName) {
		return "", ErrNotTransfer
	}
	target := strings.TrimPrefix(toolName, TransferPrefix)
	if target == "" {
		return "", fmt.Errorf("%w: %q has no target", ErrMalformedToolName, toolName)
	}
	for _, r := range target {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return "", fmt.Errorf("%w: %q contains %q", ErrMalformedToolName, toolName, r)
		}
	}
	return Normalize(target), nil
}

// Tools returns one transfer tool per handoff target of agent.
func Tools(agent domain.Agent) []domain.Tool {
	tools := make([]domain.Tool, 0, len(agent.Handoffs))
	for _, target := range agent.Handoffs {
		tools = append(tools, domain.Tool{
			Name:        ToolName(target),
			Description: fmt.Sprintf("Transfer the conversation to %s.", target),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rationale_for_handoff": map[string]any{
						"type":        "string",
						"description": "Why the conversation is being transferred.",
					},
				},
			},
		})
	}
	return tools
}

// Handoff is a resolved transfer.
type Handoff struct {
	From   string
	To     domain.Agent
	CallID string
}

// Router matches transfer tool calls against the current agent set.
type Router struct {
	log *logging.Logger
}

// NewRouter creates a Router.
func NewRouter(log *logging.Logger) *Router {
	return &Router{log: log.Sub("handoff")}
}

// Resolve maps a tool call onto a target agent. A transfer to an unknown
// agent returns *UnknownTargetError and must leave the active agent as is.
func (r *Router) Resolve(toolName, callID string, agents domain.AgentSet, active string) (Handoff, error) {
	target, err := ParseTarget(toolName)
	if err != nil {
		if !errors.Is(err, ErrNotTransfer) {
			r.log.Warn().Err(err).Str("tool", toolName).Msg("ignoring malformed transfer")
		}
		return Handoff{}, err
	}

	for _, a := range agents {
		if Normalize(a.Name) == target {
			r.log.Info().Str("from", active).Str("to", a.Name).Msg("agent handoff")
			return Handoff{From: active, To: a, CallID: callID}, nil
		}
	}

	err = &UnknownTargetError{Target: target, Known: agents.Names()}
	r.log.Warn().Err(err).Str("active", active).Msg("handoff target not in agent set")
	return Handoff{}, err
}
