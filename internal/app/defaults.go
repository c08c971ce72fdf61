package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cvc-go/internal/config"
)

// Paths are where cvc looks for its config and keeps its data when no
// --config flag is given.
type Paths struct {
	ConfigPath string
	BaseDir    string
}

// DefaultPaths resolves Paths from the environment:
//
//	CVC_CONFIG_PATH, else $XDG_CONFIG_HOME/cvc/config.toml, else ~/.config/cvc/config.toml
//	CVC_HOME, else $XDG_DATA_HOME/cvc, else ~/.local/share/cvc
func DefaultPaths() (Paths, error) {
	configPath, err := xdgPath("CVC_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", filepath.Join("cvc", "config.toml"))
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := xdgPath("CVC_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "cvc")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func xdgPath(override, xdgVar, homeRel, leaf string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, leaf), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, homeRel, leaf), nil
}

// LoadConfig reads the config file at path and applies deployment overrides
// from the environment, so several hosts can share one file:
//
//	CVC_DATABASE_URL        switches the store to postgres at that URL
//	CVC_REDIS_URL           switches item locking to redis at that URL
//	CVC_MAX_CHECKOUT_RETRIES overrides history.max_checkout_retries
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment to %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) error {
	if url := os.Getenv("CVC_DATABASE_URL"); url != "" {
		cfg.Database.Type = "postgres"
		cfg.Database.URL = url
	}
	if url := os.Getenv("CVC_REDIS_URL"); url != "" {
		cfg.Locking.Type = "redis"
		cfg.Locking.RedisURL = url
	}
	if v := os.Getenv("CVC_MAX_CHECKOUT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("CVC_MAX_CHECKOUT_RETRIES=%q is not a non-negative integer", v)
		}
		cfg.History.MaxCheckoutRetries = n
	}
	return nil
}
