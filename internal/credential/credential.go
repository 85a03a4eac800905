// Package credential fetches the short-lived credential used to open a
// realtime connection.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/version"
)

// ErrEmptyCredential is returned when a provider yields no usable value.
var ErrEmptyCredential = errors.New("credential: empty credential")

// Provider returns a connection credential.
type Provider interface {
	Credential(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// Credential calls f.
func (f ProviderFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

// Static returns a fixed key.
type Static string

// Credential returns the key or ErrEmptyCredential.
func (s Static) Credential(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", ErrEmptyCredential
	}
	return key, nil
}

// Ephemeral mints a short-lived client secret from a backend endpoint. The
// endpoint answers with either {"client_secret":{"value":...}} or
// {"value":...}.
type Ephemeral struct {
	Endpoint string
	Model    string
	Voice    string
	Client   *http.Client
}

type ephemeralResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Value string `json:"value"`
}

// Credential POSTs to the endpoint and extracts the secret.
func (e *Ephemeral) Credential(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"model": e.Model, "voice": e.Voice})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building credential request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching credential: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading credential response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credential endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ephemeralResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("malformed credential response: %w", err)
	}
	value := parsed.Value
	if parsed.ClientSecret != nil && parsed.ClientSecret.Value != "" {
		value = parsed.ClientSecret.Value
	}
	if value == "" {
		return "", ErrEmptyCredential
	}
	return value, nil
}

// TokenSource uses an OAuth2 access token as the credential.
type TokenSource struct {
	Source oauth2.TokenSource
}

// Credential returns the current access token, refreshing it if needed.
func (t TokenSource) Credential(context.Context) (string, error) {
	tok, err := t.Source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth2 token: %w", err)
	}
	if !tok.Valid() || tok.AccessToken == "" {
		return "", ErrEmptyCredential
	}
	return tok.AccessToken, nil
}

// FromConfig builds the provider selected by credential.mode.
func FromConfig(ctx context.Context, cfg config.Config) (Provider, error) {
	switch cfg.Credential.Mode {
	case "", "static":
		return Static(cfg.Credential.APIKey), nil
	case "ephemeral":
		return &Ephemeral{
			Endpoint: cfg.Credential.Endpoint,
			Model:    cfg.Realtime.Model,
			Voice:    cfg.Realtime.Voice,
		}, nil
	case "oauth2":
		cc := clientcredentials.Config{
			ClientID:     cfg.Credential.OAuth2.ClientID,
			ClientSecret: cfg.Credential.OAuth2.ClientSecret,
			TokenURL:     cfg.Credential.OAuth2.TokenURL,
			Scopes:       cfg.Credential.OAuth2.Scopes,
		}
		return TokenSource{Source: oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))}, nil
	default:
		return nil, &config.ConfigError{Message: "unknown credential mode: " + cfg.Credential.Mode}
	}
}
