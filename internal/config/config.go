package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultRealtimeURL    = "wss://api.openai.com/v1/realtime"
	DefaultModel          = "gpt-4o-realtime-preview"
	DefaultConnectTimeout = 15 * time.Second
	DefaultGatewayPort    = 18790
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Realtime: RealtimeConfig{
			URL:                DefaultRealtimeURL,
			Model:              DefaultModel,
			Codec:              "pcm16",
			Voice:              "sage",
			TranscriptionModel: "gpt-4o-mini-transcribe",
			ConnectTimeout:     DefaultConnectTimeout,
		},
		Credential: CredentialConfig{
			Mode: "static",
		},
		TurnDetection: TurnDetectionConfig{
			Mode:              "server_vad",
			Threshold:         0.9,
			SilenceDurationMs: 500,
			Eagerness:         "auto",
		},
		Agents: AgentsConfig{
			DefaultScenario: "default",
			Scenarios: map[string][]AgentEntry{
				"default": {{
					Name:         "assistant",
					Instructions: "You are a helpful, concise voice assistant.",
				}},
			},
		},
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
	}
}
