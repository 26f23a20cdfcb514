// Package config reads the on-disk defaults file for dev-sessions.
//
// Environment variables always win over values loaded here; this package
// only supplies fallbacks for the settings a user wants to set once instead
// of exporting on every shell.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml that session creation and the
// TERM/RPC drivers consult before falling back to hardcoded defaults.
type LocalConfig struct {
	DefaultMode       string `yaml:"default-mode"`
	DefaultExecutable string `yaml:"default-executable"`
	PollIntervalMs    int    `yaml:"poll-interval-ms"`
}

// LoadLocalConfig reads config.yaml from the given dev-sessions home
// directory. Returns an empty (not nil) LocalConfig if the file is absent
// or malformed, so callers never need a nil check.
func LoadLocalConfig(homeDir string) *LocalConfig {
	configPath := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - path built from homeDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable
// overrides. Env vars always take precedence.
//
// Supported overrides:
//   - DEV_SESSIONS_DEFAULT_MODE
//   - DEV_SESSIONS_DEFAULT_EXECUTABLE
func LoadLocalConfigWithEnv(homeDir string) *LocalConfig {
	cfg := LoadLocalConfig(homeDir)

	if mode := os.Getenv("DEV_SESSIONS_DEFAULT_MODE"); mode != "" {
		cfg.DefaultMode = mode
	}
	if exe := os.Getenv("DEV_SESSIONS_DEFAULT_EXECUTABLE"); exe != "" {
		cfg.DefaultExecutable = exe
	}

	return cfg
}
