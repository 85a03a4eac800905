package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Credential.APIKey = expandEnvVars(cfg.Credential.APIKey)
	cfg.Credential.Endpoint = expandEnvVars(cfg.Credential.Endpoint)
	cfg.Credential.OAuth2.ClientID = expandEnvVars(cfg.Credential.OAuth2.ClientID)
	cfg.Credential.OAuth2.ClientSecret = expandEnvVars(cfg.Credential.OAuth2.ClientSecret)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes raw back as YAML. The file is replaced by rename so a
// watcher never reads a partial write.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = d.Realtime.URL
	}
	if cfg.Realtime.Model == "" {
		cfg.Realtime.Model = d.Realtime.Model
	}
	if cfg.Realtime.Codec == "" {
		cfg.Realtime.Codec = d.Realtime.Codec
	}
	if cfg.Realtime.Voice == "" {
		cfg.Realtime.Voice = d.Realtime.Voice
	}
	if cfg.Realtime.TranscriptionModel == "" {
		cfg.Realtime.TranscriptionModel = d.Realtime.TranscriptionModel
	}
	if cfg.Realtime.ConnectTimeout == 0 {
		cfg.Realtime.ConnectTimeout = d.Realtime.ConnectTimeout
	}
	if cfg.Credential.Mode == "" {
		cfg.Credential.Mode = d.Credential.Mode
	}
	if cfg.TurnDetection.Mode == "" {
		cfg.TurnDetection.Mode = d.TurnDetection.Mode
	}
	if cfg.TurnDetection.Threshold == 0 {
		cfg.TurnDetection.Threshold = d.TurnDetection.Threshold
	}
	if cfg.TurnDetection.SilenceDurationMs == 0 {
		cfg.TurnDetection.SilenceDurationMs = d.TurnDetection.SilenceDurationMs
	}
	if cfg.TurnDetection.Eagerness == "" {
		cfg.TurnDetection.Eagerness = d.TurnDetection.Eagerness
	}
	if len(cfg.Agents.Scenarios) == 0 {
		cfg.Agents.Scenarios = d.Agents.Scenarios
	}
	if cfg.Agents.DefaultScenario == "" {
		cfg.Agents.DefaultScenario = firstScenario(cfg.Agents.Scenarios)
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond == 0 {
		cfg.Gateway.RateLimit.RequestsPerSecond = d.Gateway.RateLimit.RequestsPerSecond
	}
	if cfg.Gateway.RateLimit.Burst == 0 {
		cfg.Gateway.RateLimit.Burst = d.Gateway.RateLimit.Burst
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = d.Logging.Style
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
}

// firstScenario picks "default" if present, otherwise the alphabetically
// first scenario name so the choice is stable.
func firstScenario(scenarios map[string][]AgentEntry) string {
	if _, ok := scenarios["default"]; ok {
		return "default"
	}
	first := ""
	for name := range scenarios {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// applyEnvOverrides reads VOXLINK_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXLINK_REALTIME_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("VOXLINK_REALTIME_MODEL"); v != "" {
		cfg.Realtime.Model = v
	}
	if v := os.Getenv("VOXLINK_API_KEY"); v != "" {
		cfg.Credential.APIKey = v
	}
	if v := os.Getenv("VOXLINK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("VOXLINK_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("VOXLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
