package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lurioneli/Sleep-Suivour/internal/syncclient"
)

// Config is the on-disk CLI configuration, including the cached credentials
// for the signed-in account.
type Config struct {
	Server      string                 `yaml:"server"`
	DataDir     string                 `yaml:"dataDir"`
	Credentials syncclient.Credentials `yaml:"credentials"`
}

const defaultServer = "http://localhost:8080"

// DefaultConfigPath returns ~/.config/suivour/config.yaml (per-OS).
func DefaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "suivour", "config.yaml"), nil
}

// LoadConfig reads the config file, returning defaults when it does not
// exist yet.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Server: defaultServer}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.DataDir = filepath.Dir(path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}
	return cfg, nil
}

// SaveConfig writes the config file, creating its directory if needed.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
