package config

import "time"

// Config is the root configuration for voxlink.
type Config struct {
	Realtime      RealtimeConfig      `yaml:"realtime,omitempty"`
	Credential    CredentialConfig    `yaml:"credential,omitempty"`
	TurnDetection TurnDetectionConfig `yaml:"turnDetection,omitempty"`
	Audio         AudioConfig         `yaml:"audio,omitempty"`
	Agents        AgentsConfig        `yaml:"agents,omitempty"`
	Gateway       GatewayConfig       `yaml:"gateway,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
	Store         StoreConfig         `yaml:"store,omitempty"`
	Metrics       MetricsConfig       `yaml:"metrics,omitempty"`
}

// RealtimeConfig points at the upstream realtime service.
type RealtimeConfig struct {
	URL                string        `yaml:"url,omitempty"`
	Model              string        `yaml:"model,omitempty"`
	Codec              string        `yaml:"codec,omitempty"` // "pcm16" | "g711_ulaw" | "g711_alaw"
	Voice              string        `yaml:"voice,omitempty"`
	TranscriptionModel string        `yaml:"transcriptionModel,omitempty"`
	ConnectTimeout     time.Duration `yaml:"connectTimeout,omitempty"`
}

// CredentialConfig selects how the short-lived connection credential is obtained.
type CredentialConfig struct {
	Mode     string       `yaml:"mode,omitempty"` // "static" | "ephemeral" | "oauth2"
	APIKey   string       `yaml:"apiKey,omitempty"`
	Endpoint string       `yaml:"endpoint,omitempty"` // ephemeral key endpoint
	OAuth2   OAuth2Config `yaml:"oauth2,omitempty"`
}

// OAuth2Config is a client-credentials grant used as the credential source.
type OAuth2Config struct {
	ClientID     string   `yaml:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty"`
	TokenURL     string   `yaml:"tokenUrl,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// TurnDetectionConfig holds the startup voice-activity settings.
type TurnDetectionConfig struct {
	PushToTalk        bool    `yaml:"pushToTalk,omitempty"`
	Mode              string  `yaml:"mode,omitempty"` // "server_vad" | "semantic_vad" | "disabled"
	Threshold         float64 `yaml:"threshold,omitempty"`
	SilenceDurationMs int     `yaml:"silenceDurationMs,omitempty"`
	Eagerness         string  `yaml:"eagerness,omitempty"` // "low" | "medium" | "high" | "auto"
}

// AudioConfig controls playback, recording and wake lock.
type AudioConfig struct {
	PlaybackEnabled *bool  `yaml:"playbackEnabled,omitempty"`
	RecordDir       string `yaml:"recordDir,omitempty"`
	WakeLock        bool   `yaml:"wakeLock,omitempty"`
	// Player is a command that reads raw audio on stdin, e.g.
	// "aplay -q -t raw -f S16_LE -r {rate} -c 1". Empty discards audio.
	Player string `yaml:"player,omitempty"`
}

// Playback reports whether audio playback is enabled, defaulting to true.
func (a AudioConfig) Playback() bool {
	return a.PlaybackEnabled == nil || *a.PlaybackEnabled
}

// AgentsConfig defines agent scenarios. Each scenario is an ordered list of
// agents; the first entry is root unless another is selected at connect.
type AgentsConfig struct {
	DefaultScenario string                  `yaml:"defaultScenario,omitempty"`
	Scenarios       map[string][]AgentEntry `yaml:"scenarios,omitempty"`
}

// AgentEntry defines a single agent persona.
type AgentEntry struct {
	Name         string      `yaml:"name"`
	Voice        string      `yaml:"voice,omitempty"`
	Instructions string      `yaml:"instructions,omitempty"`
	Handoffs     []string    `yaml:"handoffs,omitempty"`
	Tools        []ToolEntry `yaml:"tools,omitempty"`
}

// ToolEntry is a function tool schema exposed to the agent.
type ToolEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
}

// GatewayConfig controls the UI bridge HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int             `yaml:"port,omitempty"`
	Bind           string          `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string          `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth     `yaml:"auth,omitempty"`
	AllowedOrigins []string        `yaml:"allowedOrigins,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// RateLimitConfig bounds RPC requests per UI client.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
	File  string `yaml:"file,omitempty"`
}

// StoreConfig selects where preferences and transcripts are kept.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// On reports whether metrics are enabled, defaulting to true.
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}
