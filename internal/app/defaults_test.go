package app

import (
	"os"
	"path/filepath"
	"testing"

	"cvc-go/internal/config"
)

func TestDefaultPaths(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name:       "explicit overrides",
			env:        map[string]string{"CVC_CONFIG_PATH": "/custom/cvc.toml", "CVC_HOME": "/custom/cvc", "XDG_CONFIG_HOME": "/xdg/config"},
			wantConfig: "/custom/cvc.toml",
			wantBase:   "/custom/cvc",
		},
		{
			name:       "xdg directories",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/xdg/config/cvc/config.toml",
			wantBase:   "/xdg/data/cvc",
		},
		{
			name:       "home fallback",
			wantConfig: filepath.Join(homeDir, ".config", "cvc", "config.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "cvc"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"CVC_CONFIG_PATH", "CVC_HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(key, tt.env[key])
			}

			paths, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if paths.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, tt.wantConfig)
			}
			if paths.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", paths.BaseDir, tt.wantBase)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvc.toml")
	if err := config.Init(path, config.NewConfig("instance-1", t.TempDir())); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	t.Run("file values without overrides", func(t *testing.T) {
		t.Setenv("CVC_DATABASE_URL", "")
		t.Setenv("CVC_REDIS_URL", "")
		t.Setenv("CVC_MAX_CHECKOUT_RETRIES", "")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Database.Type != "sqlite" || cfg.Locking.Type != "none" || cfg.History.MaxCheckoutRetries != 5 {
			t.Errorf("LoadConfig() = %s/%s/%d, want sqlite/none/5", cfg.Database.Type, cfg.Locking.Type, cfg.History.MaxCheckoutRetries)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("CVC_DATABASE_URL", "postgres://cvc@db/cvc")
		t.Setenv("CVC_REDIS_URL", "redis://cache:6379/0")
		t.Setenv("CVC_MAX_CHECKOUT_RETRIES", "2")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Database.Type != "postgres" || cfg.Database.URL != "postgres://cvc@db/cvc" {
			t.Errorf("Database = %s %q, want postgres URL", cfg.Database.Type, cfg.Database.URL)
		}
		if cfg.Locking.Type != "redis" || cfg.Locking.RedisURL != "redis://cache:6379/0" {
			t.Errorf("Locking = %s %q, want redis URL", cfg.Locking.Type, cfg.Locking.RedisURL)
		}
		if cfg.History.MaxCheckoutRetries != 2 {
			t.Errorf("MaxCheckoutRetries = %d, want 2", cfg.History.MaxCheckoutRetries)
		}
	})

	t.Run("invalid retries", func(t *testing.T) {
		t.Setenv("CVC_MAX_CHECKOUT_RETRIES", "many")
		if _, err := LoadConfig(path); err == nil {
			t.Error("LoadConfig() error = nil, want error")
		}
	})
}
