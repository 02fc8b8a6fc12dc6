package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultGRPCPort        = 50051
	DefaultWSPath          = "/ws"
	DefaultMaxMessageBytes = 1 << 20
	DefaultSendBuffer      = 256
	DefaultMaxContentBytes = 512 << 10
	DefaultStorageBackend  = "memory"
	DefaultMongoDatabase   = "docsync"
	DefaultMongoCollection = "documents"
	DefaultChannelPrefix   = "docsync"
	DefaultMDNSService     = "_docsync._tcp"
	DefaultMDNSDomain      = "local."
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. Other top-level keys are ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort serves the WebSocket endpoint, the REST API and /metrics.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// WSPath is the path the WebSocket endpoint is mounted on (default "/ws").
	WSPath string `yaml:"ws_path"`

	// PublicURL is the externally reachable base URL, only used for logging and
	// discovery metadata.
	PublicURL string `yaml:"public_url"`

	Log       LogConfig       `yaml:"log"`
	Limits    LimitsConfig    `yaml:"limits"`
	Storage   StorageConfig   `yaml:"storage"`
	Relay     RelayConfig     `yaml:"relay"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// LogConfig selects the log handler. Level is hot-reloadable.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | console.
	Format string `yaml:"format"`
}

// LimitsConfig bounds per-connection resources.
type LimitsConfig struct {
	// MaxMessageBytes is the largest inbound frame accepted; larger frames close
	// the connection.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// SendBuffer is the per-connection outbound queue length. Frames to a full
	// queue are dropped.
	SendBuffer int `yaml:"send_buffer"`

	// MaxContentBytes is the largest document content the store will save.
	// 0 disables the check.
	MaxContentBytes int `yaml:"max_content_bytes"`
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	// Backend is one of: memory | bolt | postgres | mongo.
	Backend string `yaml:"backend"`

	// Path is the database file for the bolt backend.
	Path string `yaml:"path"`

	// DSNEnv is the name of the environment variable that holds the connection
	// string for postgres or mongo.
	DSNEnv string `yaml:"dsn_env"`

	// Database and Collection are used by the mongo backend.
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DSN returns the connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// RelayConfig controls fan-out between server nodes over Redis pub/sub.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`

	// PasswordEnv is the name of the environment variable that holds the Redis
	// password. Empty means no auth.
	PasswordEnv string `yaml:"password_env"`

	// ChannelPrefix namespaces relay channels as "<prefix>:doc:<id>".
	ChannelPrefix string `yaml:"channel_prefix"`
}

// Password returns the Redis password resolved from the environment.
func (r RelayConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// DiscoveryConfig controls mDNS advertisement of the WebSocket endpoint.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return parse(data)
}

// parse applies data over the defaults and validates the result.
func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
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
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			WSPath:   DefaultWSPath,
			Log: LogConfig{
				Level:  "info",
				Format: "json",
			},
			Limits: LimitsConfig{
				MaxMessageBytes: DefaultMaxMessageBytes,
				SendBuffer:      DefaultSendBuffer,
				MaxContentBytes: DefaultMaxContentBytes,
			},
			Storage: StorageConfig{
				Backend:    DefaultStorageBackend,
				Database:   DefaultMongoDatabase,
				Collection: DefaultMongoCollection,
			},
			Relay: RelayConfig{
				ChannelPrefix: DefaultChannelPrefix,
			},
			Discovery: DiscoveryConfig{
				Instance: "docsync",
				Service:  DefaultMDNSService,
				Domain:   DefaultMDNSDomain,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", s.GRPCPort)
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		return fmt.Errorf("server.ws_path %q must start with /", s.WSPath)
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|console", s.Log.Format)
	}
	if s.Limits.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.limits.max_message_bytes must be positive")
	}
	if s.Limits.SendBuffer <= 0 {
		return fmt.Errorf("server.limits.send_buffer must be positive")
	}
	if s.Limits.MaxContentBytes < 0 {
		return fmt.Errorf("server.limits.max_content_bytes must not be negative")
	}
	switch s.Storage.Backend {
	case "memory":
	case "bolt":
		if s.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for the bolt backend")
		}
	case "postgres", "mongo":
		if s.Storage.DSNEnv == "" {
			return fmt.Errorf("server.storage.dsn_env is required for the %s backend", s.Storage.Backend)
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|bolt|postgres|mongo", s.Storage.Backend)
	}
	if s.Relay.Enabled && s.Relay.Addr == "" {
		return fmt.Errorf("server.relay.addr is required when relay is enabled")
	}
	return nil
}
