package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
client:
  server_url: "http://localhost:8080"
`)
	c := cfg.Client
	if c.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("base_delay: got %v, want 2s", c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxRetries != 5 {
		t.Errorf("max_retries: got %d, want 5", c.Reconnect.MaxRetries)
	}
	if c.Debounce.Edit != 800*time.Millisecond {
		t.Errorf("debounce.edit: got %v, want 800ms", c.Debounce.Edit)
	}
	if c.Debounce.Cursor != 100*time.Millisecond {
		t.Errorf("debounce.cursor: got %v, want 100ms", c.Debounce.Cursor)
	}
	if c.Discovery.Service != "_docsync._tcp" || c.Discovery.Domain != "local." {
		t.Errorf("discovery: got %+v", c.Discovery)
	}
	if c.Log.Format != "console" {
		t.Errorf("log.format: got %q, want console", c.Log.Format)
	}
}

func TestLoad_Full(t *testing.T) {
	cfg := loadFromString(t, `
client:
  server_url: "http://docs.internal:9000"
  secure: true
  user_id: alice
  log:
    level: debug
    format: json
  reconnect:
    base_delay: 500ms
    max_retries: 3
  debounce:
    edit: 1s
    cursor: 50ms
`)
	c := cfg.Client
	if c.UserID != "alice" || !c.Secure {
		t.Errorf("identity: got %+v", c)
	}
	if c.Reconnect.BaseDelay != 500*time.Millisecond || c.Reconnect.MaxRetries != 3 {
		t.Errorf("reconnect: got %+v", c.Reconnect)
	}
	if c.Debounce.Edit != time.Second || c.Debounce.Cursor != 50*time.Millisecond {
		t.Errorf("debounce: got %+v", c.Debounce)
	}
	u, err := c.WebSocketURL()
	if err != nil {
		t.Fatalf("WebSocketURL: %v", err)
	}
	if u != "wss://docs.internal:9000/ws" {
		t.Errorf("url: got %q", u)
	}
}

func TestLoad_EmptyServerURLAllowed(t *testing.T) {
	cfg := loadFromString(t, "client: {}\n")
	if cfg.Client.ServerURL != "" {
		t.Errorf("server_url: got %q, want empty", cfg.Client.ServerURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad scheme":       "client:\n  server_url: \"ftp://x\"\n",
		"zero base delay":  "client:\n  reconnect:\n    base_delay: 0s\n",
		"negative retries": "client:\n  reconnect:\n    max_retries: -1\n",
		"zero edit":        "client:\n  debounce:\n    edit: 0s\n",
		"zero cursor":      "client:\n  debounce:\n    cursor: 0s\n",
		"zero timeout":     "client:\n  discovery:\n    timeout: 0s\n",
		"bad yaml":         "client: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "client.yaml")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault_Valid(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Errorf("Default() invalid: %v", err)
	}
}
