// Package config loads the driver configuration from teamdrive.json
// (JSON5, comments allowed), then overlays environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the process-level driver configuration. Team roster and LLM
// settings live in the workspace mindset (.minds/), not here.
type Config struct {
	// Workspace is the directory holding .minds/ and run/.
	Workspace string `json:"workspace"`

	Control ControlConfig `json:"control"`
	Log     LogConfig     `json:"log"`

	// DefaultLang is the operator's preferred language code (e.g. "en").
	DefaultLang string `json:"default_lang"`

	Telemetry TelemetryConfig `json:"telemetry"`
}

// ControlConfig configures the local command server.
type ControlConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (c ControlConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: ".",
		Control: ControlConfig{
			Host: "127.0.0.1",
			Port: 18820,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DefaultLang: "en",
		Telemetry: TelemetryConfig{
			ServiceName: "teamdrive",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env wins over file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("TEAMDRIVE_WORKSPACE", &c.Workspace)
	envStr("TEAMDRIVE_HOST", &c.Control.Host)
	if v := os.Getenv("TEAMDRIVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Control.Port = port
		}
	}
	envStr("TEAMDRIVE_LOG_LEVEL", &c.Log.Level)
	envStr("TEAMDRIVE_LOG_FORMAT", &c.Log.Format)
	envStr("TEAMDRIVE_LANG", &c.DefaultLang)
	if v := os.Getenv("TEAMDRIVE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// SetupLogger installs the process slog default per the log config.
func (c *Config) SetupLogger() {
	level := slog.LevelInfo
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
