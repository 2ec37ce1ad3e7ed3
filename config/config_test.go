package config_test

import (
	"os"
	"testing"

	"github.com/firasghr/pibox-server/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Server.Port <= 0 {
		t.Errorf("Port should be > 0, got %d", cfg.Server.Port)
	}
	if cfg.Server.AccessTokenTTL <= 0 {
		t.Errorf("AccessTokenTTL should be > 0, got %d", cfg.Server.AccessTokenTTL)
	}
	if cfg.Server.MaxConcurrentTransfers <= 0 {
		t.Errorf("MaxConcurrentTransfers should be > 0, got %d", cfg.Server.MaxConcurrentTransfers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := `
[server]
listen_addr = "127.0.0.1"
port = 9999
backend_url = "http://example.com"
access_token_ttl = 900
refresh_token_ttl = 604800
max_concurrent_transfers = 5
load_report_interval = 5
`
	f, err := os.CreateTemp(t.TempDir(), "config*.toml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("got Port=%d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.BackendURL != "http://example.com" {
		t.Errorf("got BackendURL=%q, want http://example.com", cfg.Server.BackendURL)
	}
	if cfg.Server.MaxConcurrentTransfers != 5 {
		t.Errorf("got MaxConcurrentTransfers=%d, want 5", cfg.Server.MaxConcurrentTransfers)
	}
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != config.DefaultConfig().Server.Port {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.toml")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("[server]\nport = 9280\nbogus_field = true\n")
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected error for unknown key, got nil")
	}
}

func TestLoadConfig_InvalidatesBadTTLOrdering(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.toml")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`
[server]
listen_addr = "0.0.0.0"
port = 9280
backend_url = "http://127.0.0.1:8080"
access_token_ttl = 1000
refresh_token_ttl = 500
max_concurrent_transfers = 3
load_report_interval = 5
`)
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected validation error when refresh TTL <= access TTL, got nil")
	}
}
