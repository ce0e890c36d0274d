package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	WireFormatJSON    = "json"
	WireFormatMsgpack = "msgpack"
)

// Log configures the zap logger. File output rotates via lumberjack
// when Path is set; Dev adds a human-readable console core.
type Log struct {
	Path       string `toml:"path"`
	Level      string `toml:"level"`
	MaxSize    int    `toml:"maxSize"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAge     int    `toml:"maxAge"`
	Dev        bool   `toml:"dev"`
}

type Config struct {
	// APIBaseURL is the request/response endpoint, e.g. "http://localhost:3001".
	APIBaseURL string `toml:"apiBaseUrl"`
	// SocketURL is the push channel endpoint, e.g. "ws://localhost:3001/socket".
	SocketURL string `toml:"socketUrl"`

	RequestTimeout   time.Duration `toml:"requestTimeout"`
	SocketRetries    int           `toml:"socketRetries"`
	SocketRetryDelay time.Duration `toml:"socketRetryDelay"`
	WireFormat       string        `toml:"wireFormat"`

	// PendingWindow is the recency window for matching an optimistic
	// placeholder to its server confirmation.
	PendingWindow time.Duration `toml:"pendingWindow"`

	UsersCacheTTL time.Duration `toml:"usersCacheTtl"`

	Log Log `toml:"log"`
}

// Load reads the optional TOML config file (MOLVA_CONFIG, default
// "molva.toml" if present), then applies environment overrides and
// defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	path := getEnv("MOLVA_CONFIG", "molva.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.APIBaseURL = getEnv("MOLVA_API_URL", or(cfg.APIBaseURL, "http://localhost:3001"))
	cfg.SocketURL = getEnv("MOLVA_SOCKET_URL", or(cfg.SocketURL, "ws://localhost:3001/socket"))
	cfg.WireFormat = getEnv("MOLVA_WIRE_FORMAT", or(cfg.WireFormat, WireFormatJSON))

	var err error
	if cfg.RequestTimeout, err = getDuration("MOLVA_REQUEST_TIMEOUT", cfg.RequestTimeout, 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SocketRetryDelay, err = getDuration("MOLVA_SOCKET_RETRY_DELAY", cfg.SocketRetryDelay, time.Second); err != nil {
		return nil, err
	}
	if cfg.PendingWindow, err = getDuration("MOLVA_PENDING_WINDOW", cfg.PendingWindow, 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.UsersCacheTTL, err = getDuration("MOLVA_USERS_CACHE_TTL", cfg.UsersCacheTTL, time.Minute); err != nil {
		return nil, err
	}
	if cfg.SocketRetries, err = getInt("MOLVA_SOCKET_RETRIES", cfg.SocketRetries, 5); err != nil {
		return nil, err
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}
	if c.SocketURL == "" {
		return fmt.Errorf("socket URL is required")
	}
	if c.WireFormat != WireFormatJSON && c.WireFormat != WireFormatMsgpack {
		return fmt.Errorf("wire format must be %q or %q, got %q", WireFormatJSON, WireFormatMsgpack, c.WireFormat)
	}
	if c.PendingWindow <= 0 {
		return fmt.Errorf("pending window must be greater than 0")
	}
	if c.SocketRetries < 0 {
		return fmt.Errorf("socket retries must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fileValue, fallback time.Duration) (time.Duration, error) {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration in %s: %w", key, err)
		}
		return d, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return fallback, nil
}

func getInt(key string, fileValue, fallback int) (int, error) {
	if value, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer in %s: %w", key, err)
		}
		return n, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return fallback, nil
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
