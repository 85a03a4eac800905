// Package turndetect turns voice-activity settings into the turn_detection
// block of session.update.
package turndetect

import (
	"fmt"
	"sync"

	"github.com/soyeahso/voxlink/internal/realtime"
)

// Mode is the stored voice-activity preference.
type Mode string

const (
	ModeServerVAD   Mode = "server_vad"
	ModeSemanticVAD Mode = "semantic_vad"
	ModeDisabled    Mode = "disabled"
)

// PrefixPaddingMs is fixed for server VAD.
const PrefixPaddingMs = 300

// ParseMode validates a mode name. Empty means server VAD.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeServerVAD:
		return ModeServerVAD, nil
	case ModeSemanticVAD, ModeDisabled:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("turndetect: unknown mode %q", s)
	}
}

// Settings is the user-facing turn detection state.
type Settings struct {
	PushToTalk        bool    `json:"pushToTalk"`
	Mode              Mode    `json:"mode"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silenceDurationMs"`
	Eagerness         string  `json:"eagerness"`
}

// Compute evaluates the decision table. A nil result means turn detection
// is disabled.
func Compute(s Settings) *realtime.TurnDetection {
	if s.PushToTalk || s.Mode == ModeDisabled {
		return nil
	}
	if s.Mode == ModeSemanticVAD {
		eagerness := s.Eagerness
		if eagerness == "" {
			eagerness = "auto"
		}
		return &realtime.TurnDetection{
			Type:           string(ModeSemanticVAD),
			Eagerness:      eagerness,
			CreateResponse: true,
		}
	}
	threshold := s.Threshold
	padding := PrefixPaddingMs
	silence := s.SilenceDurationMs
	return &realtime.TurnDetection{
		Type:              string(ModeServerVAD),
		Threshold:         &threshold,
		PrefixPaddingMs:   &padding,
		SilenceDurationMs: &silence,
		CreateResponse:    true,
	}
}

// Update is a partial settings change. Nil fields are left alone.
type Update struct {
	PushToTalk        *bool    `json:"pushToTalk,omitempty"`
	Mode              *Mode    `json:"mode,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty"`
	SilenceDurationMs *int     `json:"silenceDurationMs,omitempty"`
	Eagerness         *string  `json:"eagerness,omitempty"`
}

// Configurator holds the settings for one session. Toggling push-to-talk
// never touches the stored VAD preference.
type Configurator struct {
	mu       sync.Mutex
	settings Settings
}

// New creates a Configurator with initial settings.
func New(s Settings) *Configurator {
	if s.Mode == "" {
		s.Mode = ModeServerVAD
	}
	return &Configurator{settings: s}
}

// Settings returns the current settings.
func (c *Configurator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Payload computes the turn detection block for the current settings.
func (c *Configurator) Payload() *realtime.TurnDetection {
	return Compute(c.Settings())
}

// Apply merges u into the settings and reports whether any setting
// changed, which means the payload must be re-sent on a live connection.
func (c *Configurator) Apply(u Update) (Settings, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.settings
	if u.PushToTalk != nil {
		next.PushToTalk = *u.PushToTalk
	}
	if u.Mode != nil {
		m, err := ParseMode(string(*u.Mode))
		if err != nil {
			return c.settings, false, err
		}
		next.Mode = m
	}
	if u.Threshold != nil {
		if *u.Threshold < 0 || *u.Threshold > 1 {
			return c.settings, false, fmt.Errorf("turndetect: threshold %g out of range [0,1]", *u.Threshold)
		}
		next.Threshold = *u.Threshold
	}
	if u.SilenceDurationMs != nil {
		if *u.SilenceDurationMs < 0 {
			return c.settings, false, fmt.Errorf("turndetect: negative silence duration %d", *u.SilenceDurationMs)
		}
		next.SilenceDurationMs = *u.SilenceDurationMs
	}
	if u.Eagerness != nil {
		next.Eagerness = *u.Eagerness
	}

	changed := next != c.settings
	c.settings = next
	return next, changed, nil
}

// SwitchPlan is what a live agent switch must send.
type SwitchPlan struct {
	TurnDetection *realtime.TurnDetection
	Greet         bool
}

// PlanAgentSwitch returns the session update for an agent switch. A manual
// switch gets a greeting turn so the new agent speaks first; a switch
// caused by a handoff does not.
func (c *Configurator) PlanAgentSwitch(byHandoff bool) SwitchPlan {
	return SwitchPlan{TurnDetection: c.Payload(), Greet: !byHandoff}
}
