package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the panel.
type Config struct {
	Settings SettingsConfig
	Session  SessionConfig
	Gateway  GatewayConfig
}

type SettingsConfig struct {
	Path string
}

type SessionConfig struct {
	TickInterval time.Duration
}

type GatewayConfig struct {
	CommandTimeout time.Duration
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	settingsPath := strings.TrimSpace(os.Getenv("SCRIBEDOCK_SETTINGS_FILE"))
	if settingsPath == "" {
		settingsPath = filepath.Join(home, ".config", "scribedock", "settings.yaml")
	}

	cfg := Config{
		Settings: SettingsConfig{Path: settingsPath},
		Session: SessionConfig{
			TickInterval: time.Duration(envOrDefaultInt("SCRIBEDOCK_TICK_MS", 200)) * time.Millisecond,
		},
		Gateway: GatewayConfig{
			CommandTimeout: time.Duration(envOrDefaultInt("SCRIBEDOCK_COMMAND_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
	}

	if cfg.Session.TickInterval <= 0 || cfg.Session.TickInterval > 200*time.Millisecond {
		cfg.Session.TickInterval = 200 * time.Millisecond
	}
	if cfg.Gateway.CommandTimeout <= 0 {
		cfg.Gateway.CommandTimeout = 30 * time.Second
	}

	return cfg, nil
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
