// Package prefs is the typed view of user preferences persisted in the store.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/store"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

// Key names a preference.
type Key string

const (
	KeyPushToTalk    Key = "ptt_enabled"
	KeyAudioPlayback Key = "audio_playback_enabled"
	KeyVoice         Key = "voice"
	KeyCodec         Key = "codec"
	KeyVADMode       Key = "vad_mode"
	KeySelectedAgent Key = "selected_agent"
	KeyScenario      Key = "scenario"
)

var validators = map[Key]func(string) error{
	KeyPushToTalk:    validBool,
	KeyAudioPlayback: validBool,
	KeyVoice:         nonEmpty,
	KeyCodec:         func(v string) error { _, err := realtime.ParseCodec(v); return err },
	KeyVADMode:       func(v string) error { _, err := turndetect.ParseMode(v); return err },
	KeySelectedAgent: nonEmpty,
	KeyScenario:      nonEmpty,
}

// Keys returns every known key, sorted.
func Keys() []Key {
	keys := make([]Key, 0, len(validators))
	for k := range validators {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ParseKey validates a key name.
func ParseKey(s string) (Key, error) {
	if _, ok := validators[Key(s)]; !ok {
		return "", fmt.Errorf("unknown preference %q", s)
	}
	return Key(s), nil
}

func validBool(v string) error {
	_, err := strconv.ParseBool(v)
	return err
}

func nonEmpty(v string) error {
	if v == "" {
		return errors.New("value must not be empty")
	}
	return nil
}

// Prefs is the loaded preference set. Unset values are nil or empty.
type Prefs struct {
	PushToTalk    *bool  `json:"pttEnabled,omitempty"`
	AudioPlayback *bool  `json:"audioPlaybackEnabled,omitempty"`
	Voice         string `json:"voice,omitempty"`
	Codec         string `json:"codec,omitempty"`
	VADMode       string `json:"vadMode,omitempty"`
	SelectedAgent string `json:"selectedAgent,omitempty"`
	Scenario      string `json:"scenario,omitempty"`
}

// Overlay applies the stored choices on top of the file configuration.
func (p Prefs) Overlay(cfg *config.Config) {
	if p.PushToTalk != nil {
		cfg.TurnDetection.PushToTalk = *p.PushToTalk
	}
	if p.AudioPlayback != nil {
		v := *p.AudioPlayback
		cfg.Audio.PlaybackEnabled = &v
	}
	if p.Voice != "" {
		cfg.Realtime.Voice = p.Voice
	}
	if p.Codec != "" {
		cfg.Realtime.Codec = p.Codec
	}
	if p.VADMode != "" {
		cfg.TurnDetection.Mode = p.VADMode
	}
	if p.Scenario != "" {
		if _, ok := cfg.Agents.Scenarios[p.Scenario]; ok {
			cfg.Agents.DefaultScenario = p.Scenario
		}
	}
}

// Store reads and writes preferences through a key-value store.
type Store struct {
	kv  store.Prefs
	log *logging.Logger
}

// New wraps kv.
func New(kv store.Prefs, log *logging.Logger) *Store {
	return &Store{kv: kv, log: log.Sub("prefs")}
}

// Load reads every known preference. Invalid stored values are skipped with
// a warning.
func (s *Store) Load(ctx context.Context) (Prefs, error) {
	all, err := s.kv.ListPrefs(ctx)
	if err != nil {
		return Prefs{}, fmt.Errorf("loading preferences: %w", err)
	}

	var p Prefs
	for k, v := range all {
		key := Key(k)
		validate, ok := validators[key]
		if !ok {
			continue
		}
		if err := validate(v); err != nil {
			s.log.Warn().Err(err).Str("key", k).Str("value", v).Msg("ignoring invalid preference")
			continue
		}
		switch key {
		case KeyPushToTalk:
			b, _ := strconv.ParseBool(v)
			p.PushToTalk = &b
		case KeyAudioPlayback:
			b, _ := strconv.ParseBool(v)
			p.AudioPlayback = &b
		case KeyVoice:
			p.Voice = v
		case KeyCodec:
			p.Codec = v
		case KeyVADMode:
			p.VADMode = v
		case KeySelectedAgent:
			p.SelectedAgent = v
		case KeyScenario:
			p.Scenario = v
		}
	}
	return p, nil
}

// Get returns one raw value, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	k, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return s.kv.GetPref(ctx, string(k))
}

// Set validates and writes one value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	k, err := ParseKey(key)
	if err != nil {
		return err
	}
	if err := validators[k](value); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if err := s.kv.SetPref(ctx, key, value); err != nil {
		return err
	}
	s.log.Debug().Str("key", key).Str("value", value).Msg("preference saved")
	return nil
}

// SetBool writes a boolean preference.
func (s *Store) SetBool(ctx context.Context, key Key, v bool) error {
	return s.Set(ctx, string(key), strconv.FormatBool(v))
}

// List returns the raw stored values of known keys.
func (s *Store) List(ctx context.Context) (map[string]string, error) {
	all, err := s.kv.ListPrefs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if _, ok := validators[Key(k)]; ok {
			out[k] = v
		}
	}
	return out, nil
}
