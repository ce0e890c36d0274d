package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MOLVA_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIBaseURL != "http://localhost:3001" {
		t.Errorf("unexpected API URL: %s", cfg.APIBaseURL)
	}
	if cfg.SocketURL != "ws://localhost:3001/socket" {
		t.Errorf("unexpected socket URL: %s", cfg.SocketURL)
	}
	if cfg.WireFormat != WireFormatJSON {
		t.Errorf("unexpected wire format: %s", cfg.WireFormat)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("unexpected request timeout: %v", cfg.RequestTimeout)
	}
	if cfg.PendingWindow != 5*time.Second {
		t.Errorf("unexpected pending window: %v", cfg.PendingWindow)
	}
	if cfg.SocketRetries != 5 {
		t.Errorf("unexpected socket retries: %d", cfg.SocketRetries)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unexpected log level: %s", cfg.Log.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MOLVA_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MOLVA_API_URL", "http://chat.example.com")
	t.Setenv("MOLVA_WIRE_FORMAT", WireFormatMsgpack)
	t.Setenv("MOLVA_PENDING_WINDOW", "2s")
	t.Setenv("MOLVA_SOCKET_RETRIES", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIBaseURL != "http://chat.example.com" {
		t.Errorf("env override not applied: %s", cfg.APIBaseURL)
	}
	if cfg.WireFormat != WireFormatMsgpack {
		t.Errorf("env override not applied: %s", cfg.WireFormat)
	}
	if cfg.PendingWindow != 2*time.Second {
		t.Errorf("env override not applied: %v", cfg.PendingWindow)
	}
	if cfg.SocketRetries != 9 {
		t.Errorf("env override not applied: %d", cfg.SocketRetries)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molva.toml")
	content := `
apiBaseUrl = "http://file.example.com"
socketRetries = 2

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOLVA_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIBaseURL != "http://file.example.com" {
		t.Errorf("file value not applied: %s", cfg.APIBaseURL)
	}
	if cfg.SocketRetries != 2 {
		t.Errorf("file value not applied: %d", cfg.SocketRetries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("file value not applied: %s", cfg.Log.Level)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molva.toml")
	if err := os.WriteFile(path, []byte(`apiBaseUrl = "http://file.example.com"`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOLVA_CONFIG", path)
	t.Setenv("MOLVA_API_URL", "http://env.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIBaseURL != "http://env.example.com" {
		t.Errorf("env must win over file, got %s", cfg.APIBaseURL)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("MOLVA_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MOLVA_REQUEST_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		APIBaseURL:    "http://localhost:3001",
		SocketURL:     "ws://localhost:3001/socket",
		WireFormat:    WireFormatJSON,
		PendingWindow: time.Second,
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing api url", func(c *Config) { c.APIBaseURL = "" }},
		{"missing socket url", func(c *Config) { c.SocketURL = "" }},
		{"unknown wire format", func(c *Config) { c.WireFormat = "xml" }},
		{"zero pending window", func(c *Config) { c.PendingWindow = 0 }},
		{"negative retries", func(c *Config) { c.SocketRetries = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
