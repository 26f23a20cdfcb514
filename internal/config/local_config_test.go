package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLocalConfig(t *testing.T) {
	tests := []struct {
		name           string
		configYAML     string
		wantMode       string
		wantExecutable string
		wantPollMs     int
	}{
		{
			name:       "no config file",
			configYAML: "",
		},
		{
			name:       "default-mode only",
			configYAML: "default-mode: B\n",
			wantMode:   "B",
		},
		{
			name:           "mixed config",
			configYAML:     "default-mode: C\ndefault-executable: codex-app-server\npoll-interval-ms: 500\n",
			wantMode:       "C",
			wantExecutable: "codex-app-server",
			wantPollMs:     500,
		},
		{
			name:       "malformed yaml falls back to empty config",
			configYAML: "default-mode: [unterminated\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if tt.configYAML != "" {
				configPath := filepath.Join(tmpDir, "config.yaml")
				if err := os.WriteFile(configPath, []byte(tt.configYAML), 0o600); err != nil {
					t.Fatalf("write config.yaml: %v", err)
				}
			}

			cfg := LoadLocalConfig(tmpDir)
			if cfg.DefaultMode != tt.wantMode {
				t.Errorf("DefaultMode = %q, want %q", cfg.DefaultMode, tt.wantMode)
			}
			if cfg.DefaultExecutable != tt.wantExecutable {
				t.Errorf("DefaultExecutable = %q, want %q", cfg.DefaultExecutable, tt.wantExecutable)
			}
			if cfg.PollIntervalMs != tt.wantPollMs {
				t.Errorf("PollIntervalMs = %d, want %d", cfg.PollIntervalMs, tt.wantPollMs)
			}
		})
	}
}

func TestLoadLocalConfigWithEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("default-mode: A\ndefault-executable: config-exe\n"), 0o600); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	t.Run("env vars override config file", func(t *testing.T) {
		t.Setenv("DEV_SESSIONS_DEFAULT_MODE", "B")
		t.Setenv("DEV_SESSIONS_DEFAULT_EXECUTABLE", "env-exe")

		cfg := LoadLocalConfigWithEnv(tmpDir)
		if cfg.DefaultMode != "B" {
			t.Errorf("DefaultMode = %q, want %q", cfg.DefaultMode, "B")
		}
		if cfg.DefaultExecutable != "env-exe" {
			t.Errorf("DefaultExecutable = %q, want %q", cfg.DefaultExecutable, "env-exe")
		}
	})

	t.Run("no env vars uses config file", func(t *testing.T) {
		os.Unsetenv("DEV_SESSIONS_DEFAULT_MODE")
		os.Unsetenv("DEV_SESSIONS_DEFAULT_EXECUTABLE")

		cfg := LoadLocalConfigWithEnv(tmpDir)
		if cfg.DefaultMode != "A" {
			t.Errorf("DefaultMode = %q, want %q", cfg.DefaultMode, "A")
		}
		if cfg.DefaultExecutable != "config-exe" {
			t.Errorf("DefaultExecutable = %q, want %q", cfg.DefaultExecutable, "config-exe")
		}
	})
}
