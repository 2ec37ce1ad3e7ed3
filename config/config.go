// Package config provides configuration loading for pibox-server.
//
// Settings are expressed as TOML on disk and decoded with
// github.com/BurntSushi/toml. DefaultConfig supplies production-sensible
// defaults for every field; LoadConfig overlays an optional file on top of
// those defaults and validates the result.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds the transport and token-authority tunables.
type ServerConfig struct {
	// ListenAddr is the interface address the HTTP/WebSocket listener binds
	// to, e.g. "0.0.0.0".
	ListenAddr string `toml:"listen_addr"`

	// Port is the TCP port serving /health, /api/login and /ws.
	Port int `toml:"port"`

	// BackendURL is the base URL of the file-management backend.
	BackendURL string `toml:"backend_url"`

	// BackendToken is the opaque bearer token injected into every backend
	// request. May be empty if the backend requires no authentication.
	BackendToken string `toml:"backend_token"`

	// TokenSecretB64 is a base64-encoded HMAC secret for the Token
	// Authority. If empty, an ephemeral secret is generated at startup
	// (existing tokens will not survive a restart).
	TokenSecretB64 string `toml:"token_secret_b64"`

	// AccessTokenTTL is the access-token lifetime in seconds.
	AccessTokenTTL int64 `toml:"access_token_ttl"`

	// RefreshTokenTTL is the refresh-token lifetime in seconds.
	RefreshTokenTTL int64 `toml:"refresh_token_ttl"`

	// MaxConcurrentTransfers bounds simultaneous download/upload operations.
	MaxConcurrentTransfers int `toml:"max_concurrent_transfers"`

	// LoadReportIntervalSeconds is the load-probe tick interval.
	LoadReportIntervalSeconds int64 `toml:"load_report_interval"`
}

// Config is the top-level configuration object.
type Config struct {
	Server ServerConfig `toml:"server"`
}

// AccessTokenTTLDuration returns the access-token lifetime as a
// time.Duration.
func (c *Config) AccessTokenTTLDuration() time.Duration {
	return time.Duration(c.Server.AccessTokenTTL) * time.Second
}

// RefreshTokenTTLDuration returns the refresh-token lifetime as a
// time.Duration.
func (c *Config) RefreshTokenTTLDuration() time.Duration {
	return time.Duration(c.Server.RefreshTokenTTL) * time.Second
}

// LoadReportInterval returns the load-probe tick interval as a
// time.Duration.
func (c *Config) LoadReportInterval() time.Duration {
	return time.Duration(c.Server.LoadReportIntervalSeconds) * time.Second
}

// Addr returns the "host:port" listen address for http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.ListenAddr, c.Server.Port)
}

// DefaultConfig returns a *Config pre-filled with sensible defaults. Callers
// are free to mutate the returned struct before use; each call returns a
// fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:                "0.0.0.0",
			Port:                      9280,
			BackendURL:                "http://127.0.0.1:8080",
			AccessTokenTTL:            900,
			RefreshTokenTTL:           604800,
			MaxConcurrentTransfers:    3,
			LoadReportIntervalSeconds: 5,
		},
	}
}

// LoadConfig decodes the TOML file at path on top of DefaultConfig and
// validates the result. A path of "" returns the defaults unmodified.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg) // #nosec G304 – path is operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %q contains unknown keys: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration for internally-consistent,
// startup-safe values. A configuration error at startup is always fatal.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.BackendURL == "" {
		return fmt.Errorf("server.backend_url must not be empty")
	}
	if c.Server.AccessTokenTTL <= 0 {
		return fmt.Errorf("server.access_token_ttl must be positive")
	}
	if c.Server.RefreshTokenTTL <= 0 {
		return fmt.Errorf("server.refresh_token_ttl must be positive")
	}
	if c.Server.RefreshTokenTTL <= c.Server.AccessTokenTTL {
		return fmt.Errorf("server.refresh_token_ttl must exceed server.access_token_ttl")
	}
	if c.Server.MaxConcurrentTransfers < 1 {
		return fmt.Errorf("server.max_concurrent_transfers must be at least 1")
	}
	if c.Server.LoadReportIntervalSeconds <= 0 {
		return fmt.Errorf("server.load_report_interval must be positive")
	}
	return nil
}
