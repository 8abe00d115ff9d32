package hublink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Setting keys used by SettingsConfigProvider.
const (
	SettingEndpointURL = "hub.endpoint_url"
	SettingToken       = "hub.token"
)

// websocketPath is appended to a hub base address to reach its realtime API.
const websocketPath = "/api/websocket"

// ConnectionConfig holds the effective values for one connection attempt.
type ConnectionConfig struct {
	EndpointURL string `json:"endpointUrl"`
	Token       string `json:"token"`
}

// Validate checks that the endpoint is a ws:// or wss:// URL with a host
// and that a token is present.
func (c ConnectionConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.EndpointURL, validation.Required, validation.By(websocketURL)),
		validation.Field(&c.Token, validation.Required),
	)
}

// Redacted returns a copy safe for logging.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	if c.Token != "" {
		c.Token = "***"
	}
	return c
}

func websocketURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("must use the ws or wss scheme")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// ResolveEndpoint returns the realtime endpoint for a hub. An explicit
// realtime URL wins. Otherwise the base address is rewritten from http to
// ws (https to wss) and the websocket API path is appended.
func ResolveEndpoint(base, explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if err := websocketURL(explicit); err != nil {
			return "", NewErrorWithCause(ErrCodeConfiguration, "invalid realtime endpoint", err)
		}
		return explicit, nil
	}

	base = strings.TrimSpace(base)
	if base == "" {
		return "", NewError(ErrCodeConfiguration, "hub address is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", NewErrorWithCause(ErrCodeConfiguration, "invalid hub address", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", NewError(ErrCodeConfiguration, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", NewError(ErrCodeConfiguration, "hub address must include a host")
	}
	if !strings.HasSuffix(u.Path, websocketPath) {
		u.Path = strings.TrimSuffix(u.Path, "/") + websocketPath
	}
	return u.String(), nil
}

// ConfigProvider supplies the ambient connection settings.
type ConfigProvider interface {
	ConnectionConfig(ctx context.Context) (ConnectionConfig, error)
}

// StaticConfig is a ConfigProvider that always returns the same values.
type StaticConfig ConnectionConfig

// ConnectionConfig implements ConfigProvider.
func (s StaticConfig) ConnectionConfig(_ context.Context) (ConnectionConfig, error) {
	return ConnectionConfig(s), nil
}

// SettingsConfigProvider reads the connection settings from the settings
// table. Missing keys yield empty values, which fail validation at connect.
type SettingsConfigProvider struct {
	settings SettingRepository
}

// NewSettingsConfigProvider creates a provider backed by settings.
func NewSettingsConfigProvider(settings SettingRepository) *SettingsConfigProvider {
	return &SettingsConfigProvider{settings: settings}
}

// ConnectionConfig implements ConfigProvider.
func (p *SettingsConfigProvider) ConnectionConfig(ctx context.Context) (ConnectionConfig, error) {
	var cfg ConnectionConfig
	var err error

	if cfg.EndpointURL, err = p.get(ctx, SettingEndpointURL); err != nil {
		return cfg, err
	}
	if cfg.Token, err = p.get(ctx, SettingToken); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (p *SettingsConfigProvider) get(ctx context.Context, key string) (string, error) {
	value, err := p.settings.Get(ctx, key)
	if IsNoData(err) {
		return "", nil
	}
	if err != nil {
		return "", NewErrorWithCause(ErrCodeConfiguration, "failed to read "+key, err)
	}
	return value, nil
}

// Save validates cfg and stores it as the ambient configuration.
func (p *SettingsConfigProvider) Save(ctx context.Context, cfg ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeValidation, "invalid connection config", err)
	}
	if err := p.settings.Put(ctx, SettingEndpointURL, cfg.EndpointURL); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to save endpoint", err)
	}
	if err := p.settings.Put(ctx, SettingToken, cfg.Token); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to save token", err)
	}
	return nil
}
