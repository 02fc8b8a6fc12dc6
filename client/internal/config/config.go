package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docsync/docsync/pkg/discovery"
	"github.com/docsync/docsync/pkg/protocol"
	"github.com/docsync/docsync/pkg/syncclient"
)

// DefaultDiscoveryTimeout bounds the mDNS browse when server_url is empty.
const DefaultDiscoveryTimeout = 5 * time.Second

// Config is the top-level client configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
}

// ClientConfig holds all client-side settings.
type ClientConfig struct {
	// ServerURL is the server's base address (http, https, ws or wss). Empty
	// means browse for a server over mDNS.
	ServerURL string `yaml:"server_url"`

	// Secure upgrades an http/ws ServerURL to wss.
	Secure bool `yaml:"secure"`

	// UserID labels this client. Generated when empty.
	UserID string `yaml:"user_id"`

	Log       LogConfig       `yaml:"log"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Debounce  DebounceConfig  `yaml:"debounce"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReconnectConfig shapes the reconnect backoff: attempt n waits
// BaseDelay * 2^n, up to MaxRetries attempts.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxRetries int           `yaml:"max_retries"`
}

// DebounceConfig holds the quiet periods before local changes are sent.
type DebounceConfig struct {
	Edit   time.Duration `yaml:"edit"`
	Cursor time.Duration `yaml:"cursor"`
}

// DiscoveryConfig controls the mDNS browse used when ServerURL is empty.
type DiscoveryConfig struct {
	Service string        `yaml:"service"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebSocketURL returns the endpoint to dial derived from ServerURL and Secure.
func (c ClientConfig) WebSocketURL() (string, error) {
	return protocol.WebSocketURL(c.ServerURL, c.Secure)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Client: ClientConfig{
			Log: LogConfig{Level: "info", Format: "console"},
			Reconnect: ReconnectConfig{
				BaseDelay:  syncclient.DefaultBaseDelay,
				MaxRetries: syncclient.DefaultMaxRetries,
			},
			Debounce: DebounceConfig{
				Edit:   syncclient.DefaultEditDelay,
				Cursor: syncclient.DefaultCursorDelay,
			},
			Discovery: DiscoveryConfig{
				Service: discovery.DefaultService,
				Domain:  discovery.DefaultDomain,
				Timeout: DefaultDiscoveryTimeout,
			},
		},
	}
}

// validate checks structural constraints.
func validate(cfg *Config) error {
	c := cfg.Client
	if c.ServerURL != "" {
		if _, err := c.WebSocketURL(); err != nil {
			return fmt.Errorf("client.server_url: %w", err)
		}
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("client.reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("client.reconnect.max_retries must not be negative")
	}
	if c.Debounce.Edit <= 0 {
		return fmt.Errorf("client.debounce.edit must be positive")
	}
	if c.Debounce.Cursor <= 0 {
		return fmt.Errorf("client.debounce.cursor must be positive")
	}
	if c.Discovery.Timeout <= 0 {
		return fmt.Errorf("client.discovery.timeout must be positive")
	}
	return nil
}
