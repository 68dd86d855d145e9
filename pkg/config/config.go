// Package config loads the juicechat TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/juicebox/juicechat/pkg/client"
)

// DefaultPath is where LoadConfig looks when no path is given
const DefaultPath = "~/.juicechat/config.toml"

// TOMLConfig represents the structure of the config file
type TOMLConfig struct {
	Backend       BackendSection       `toml:"backend"`
	Connection    ConnectionSection    `toml:"connection"`
	Collaboration CollaborationSection `toml:"collaboration"`
	State         StateSection         `toml:"state"`
	Metrics       MetricsSection       `toml:"metrics"`
}

type BackendSection struct {
	APIBase string `toml:"api_base" validate:"required,url"`
	WSBase  string `toml:"ws_base" validate:"omitempty,url"`
}

type ConnectionSection struct {
	InitialDelayMs          int `toml:"initial_delay_ms" validate:"gt=0"`
	MaxDelayMs              int `toml:"max_delay_ms" validate:"gtefield=InitialDelayMs"`
	MaxAttempts             int `toml:"max_attempts" validate:"gt=0"`
	MaxJitterMs             int `toml:"max_jitter_ms" validate:"gte=0"`
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds" validate:"gt=0"`
	ProbeIntervalSeconds    int `toml:"probe_interval_seconds" validate:"gt=0"`
}

type CollaborationSection struct {
	TypingTimeoutMs int `toml:"typing_timeout_ms" validate:"gt=0"`
}

type StateSection struct {
	Path            string `toml:"path" validate:"required"`
	WatchIntervalMs int    `toml:"watch_interval_ms" validate:"gt=0"`
}

type MetricsSection struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9090"
	Addr string `toml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Backend: BackendSection{
			APIBase: "http://localhost:3000",
		},
		Connection: ConnectionSection{
			InitialDelayMs:          1000,
			MaxDelayMs:              30000,
			MaxAttempts:             10,
			MaxJitterMs:             1000,
			HandshakeTimeoutSeconds: 10,
			ProbeIntervalSeconds:    5,
		},
		Collaboration: CollaborationSection{
			TypingTimeoutMs: 2000,
		},
		State: StateSection{
			Path:            "~/.juicechat/state.db",
			WatchIntervalMs: 1000,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default one if
// not found, and applies environment variable overrides. Keys missing from
// the file keep their defaults.
func LoadConfig(path string) (TOMLConfig, error) {
	if path == "" {
		path = DefaultPath
	}
	path, err := ExpandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	config := DefaultTOMLConfig()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// Not being able to write the default is fine, we still have defaults
		_ = writeDefaultConfig(path)
	} else if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	config = applyEnvOverrides(config)
	if err := config.Validate(); err != nil {
		return TOMLConfig{}, err
	}
	return config, nil
}

// Validate checks value ranges and URL formats
func (c TOMLConfig) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: JUICE_SECTION_KEY
// Example: JUICE_BACKEND_API_BASE=https://api.example.com
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	envString("JUICE_BACKEND_API_BASE", &config.Backend.APIBase)
	envString("JUICE_BACKEND_WS_BASE", &config.Backend.WSBase)

	envInt("JUICE_CONNECTION_INITIAL_DELAY_MS", &config.Connection.InitialDelayMs)
	envInt("JUICE_CONNECTION_MAX_DELAY_MS", &config.Connection.MaxDelayMs)
	envInt("JUICE_CONNECTION_MAX_ATTEMPTS", &config.Connection.MaxAttempts)
	envInt("JUICE_CONNECTION_MAX_JITTER_MS", &config.Connection.MaxJitterMs)
	envInt("JUICE_CONNECTION_HANDSHAKE_TIMEOUT_SECONDS", &config.Connection.HandshakeTimeoutSeconds)
	envInt("JUICE_CONNECTION_PROBE_INTERVAL_SECONDS", &config.Connection.ProbeIntervalSeconds)

	envInt("JUICE_COLLABORATION_TYPING_TIMEOUT_MS", &config.Collaboration.TypingTimeoutMs)

	envString("JUICE_STATE_PATH", &config.State.Path)
	envInt("JUICE_STATE_WATCH_INTERVAL_MS", &config.State.WatchIntervalMs)

	envString("JUICE_METRICS_ADDR", &config.Metrics.Addr)
	return config
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

// envInt ignores values that do not parse
func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// ExpandHome expands a leading ~/ to the user's home directory
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// writeDefaultConfig writes the default config with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# juicechat configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# JUICE_SECTION_KEY (e.g., JUICE_BACKEND_API_BASE=https://api.example.com)

[backend]
# REST API base URL
api_base = "http://localhost:3000"

# WebSocket base URL, derived from api_base when empty (http -> ws, https -> wss)
# ws_base = "wss://api.example.com"

[connection]
# Delay before the first reconnect attempt, doubled on each failure
initial_delay_ms = 1000

# Upper bound on the reconnect delay
max_delay_ms = 30000

# Consecutive failures before giving up (a new connect starts over)
max_attempts = 10

# Random jitter added to each reconnect delay
max_jitter_ms = 1000

# WebSocket handshake timeout
handshake_timeout_seconds = 10

# How often to probe the backend host for reachability
probe_interval_seconds = 5

[collaboration]
# Typing indicators disappear after this long without an update
typing_timeout_ms = 2000

[state]
# SQLite file holding the session id, auth and the chat cache
path = "~/.juicechat/state.db"

# How often to check for writes from another juicechat process
watch_interval_ms = 1000

[metrics]
# Serve Prometheus metrics on this address; empty disables
# addr = "127.0.0.1:9090"
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ConnectionOptions converts the [connection] section to reconnect options
func (c TOMLConfig) ConnectionOptions() client.Options {
	return client.Options{
		InitialDelay: time.Duration(c.Connection.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.Connection.MaxDelayMs) * time.Millisecond,
		MaxAttempts:  c.Connection.MaxAttempts,
		MaxJitter:    time.Duration(c.Connection.MaxJitterMs) * time.Millisecond,
	}
}

func (c TOMLConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.Connection.HandshakeTimeoutSeconds) * time.Second
}

func (c TOMLConfig) ProbeInterval() time.Duration {
	return time.Duration(c.Connection.ProbeIntervalSeconds) * time.Second
}

func (c TOMLConfig) TypingTimeout() time.Duration {
	return time.Duration(c.Collaboration.TypingTimeoutMs) * time.Millisecond
}

func (c TOMLConfig) WatchInterval() time.Duration {
	return time.Duration(c.State.WatchIntervalMs) * time.Millisecond
}

// WebSocketBase returns ws_base, or one derived from api_base
func (c TOMLConfig) WebSocketBase() (string, error) {
	if c.Backend.WSBase != "" {
		return c.Backend.WSBase, nil
	}
	return client.WebSocketBase(c.Backend.APIBase)
}

// GetStatePath returns the state path with ~ expanded
func (c TOMLConfig) GetStatePath() (string, error) {
	return ExpandHome(c.State.Path)
}
