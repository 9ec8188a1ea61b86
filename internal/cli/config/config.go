// Package config holds runtime settings for the vault CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the CLI's runtime configuration.
type Config struct {
	// ServerURL is the base URL of the vault API.
	ServerURL string `env:"ALIASVAULT_SERVER"`

	// DataDir holds the encrypted local cache and, while unlocked, the
	// decrypted working vault. It should live on a private filesystem.
	DataDir string `env:"ALIASVAULT_DATA_DIR"`

	// RequestTimeout bounds a single HTTP request to the server.
	RequestTimeout time.Duration `env:"ALIASVAULT_TIMEOUT"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080/api"
	c.RequestTimeout = 30 * time.Second
	if dir, err := os.UserConfigDir(); err == nil {
		c.DataDir = filepath.Join(dir, "aliasvault")
	} else {
		c.DataDir = ".aliasvault"
	}
}

// Load constructs a Config: defaults first, then a .env file when one
// exists in the working directory, then environment variables. Later
// sources take precedence; command-line flags overlay last, in the CLI.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
