package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validCodecs      = []string{"pcm16", "g711_ulaw", "g711_alaw"}
	validVADModes    = []string{"server_vad", "semantic_vad", "disabled"}
	validEagerness   = []string{"low", "medium", "high", "auto"}
	validCredModes   = []string{"static", "ephemeral", "oauth2"}
	validBinds       = []string{"loopback", "lan", "custom"}
	validAuthModes   = []string{"none", "token", "password"}
	validLogLevels   = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validLogStyles   = []string{"pretty", "json"}
	validStoreDriver = []string{"sqlite", "memory"}
)

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
			})
		}
	}

	// Realtime
	oneOf("realtime.codec", cfg.Realtime.Codec, validCodecs)
	if cfg.Realtime.ConnectTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "realtime.connectTimeout",
			Message: "must not be negative",
		})
	}

	// Credential
	oneOf("credential.mode", cfg.Credential.Mode, validCredModes)
	switch cfg.Credential.Mode {
	case "ephemeral":
		if cfg.Credential.Endpoint == "" {
			issues = append(issues, ValidationIssue{
				Path:    "credential.endpoint",
				Message: "required when credential.mode is ephemeral",
			})
		}
	case "oauth2":
		if cfg.Credential.OAuth2.TokenURL == "" {
			issues = append(issues, ValidationIssue{
				Path:    "credential.oauth2.tokenUrl",
				Message: "required when credential.mode is oauth2",
			})
		}
		if cfg.Credential.OAuth2.ClientID == "" {
			issues = append(issues, ValidationIssue{
				Path:    "credential.oauth2.clientId",
				Message: "required when credential.mode is oauth2",
			})
		}
	}

	// Turn detection
	td := cfg.TurnDetection
	oneOf("turnDetection.mode", td.Mode, validVADModes)
	oneOf("turnDetection.eagerness", td.Eagerness, validEagerness)
	if td.Threshold < 0 || td.Threshold > 1 {
		issues = append(issues, ValidationIssue{
			Path:    "turnDetection.threshold",
			Message: fmt.Sprintf("must be between 0 and 1, got %g", td.Threshold),
		})
	}
	if td.SilenceDurationMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "turnDetection.silenceDurationMs",
			Message: "must not be negative",
		})
	}

	// Agents
	if cfg.Agents.DefaultScenario != "" {
		if _, ok := cfg.Agents.Scenarios[cfg.Agents.DefaultScenario]; !ok {
			issues = append(issues, ValidationIssue{
				Path:    "agents.defaultScenario",
				Message: fmt.Sprintf("scenario %q is not defined", cfg.Agents.DefaultScenario),
			})
		}
	}
	for name, agents := range cfg.Agents.Scenarios {
		if len(agents) == 0 {
			issues = append(issues, ValidationIssue{
				Path:    "agents.scenarios." + name,
				Message: "scenario has no agents",
			})
			continue
		}
		known := map[string]bool{}
		for _, a := range agents {
			known[a.Name] = true
		}
		for i, a := range agents {
			if a.Name == "" {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("agents.scenarios.%s[%d].name", name, i),
					Message: "name is required",
				})
			}
			for _, h := range a.Handoffs {
				if !known[h] {
					issues = append(issues, ValidationIssue{
						Path:    fmt.Sprintf("agents.scenarios.%s[%d].handoffs", name, i),
						Message: fmt.Sprintf("handoff target %q is not in the scenario", h),
					})
				}
			}
		}
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, validBinds)
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, validAuthModes)

	// Logging
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.style", cfg.Logging.Style, validLogStyles)

	// Store
	oneOf("store.driver", cfg.Store.Driver, validStoreDriver)

	return issues
}
