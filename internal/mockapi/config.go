// Package mockapi is a development stand-in for the GadgetCloud REST API.
// It serves the endpoints the portal consumes from an in-memory store seeded
// from YAML.
package mockapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config contains the mock backend settings.
type Config struct {
	Addr        string        `envconfig:"MOCKAPI_ADDR" default:":8000"`
	Prefix      string        `envconfig:"MOCKAPI_PREFIX" default:"/api"`
	TokenSecret string        `envconfig:"MOCKAPI_TOKEN_SECRET" default:"gadgetcloud-dev-secret"`
	TokenTTL    time.Duration `envconfig:"MOCKAPI_TOKEN_TTL" default:"8h"`
	SeedFile    string        `envconfig:"MOCKAPI_SEED_FILE"`
}

// LoadConfig reads MOCKAPI_* environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load mockapi config: %w", err)
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "/" {
		cfg.Prefix = ""
	}
	if len(cfg.TokenSecret) < 16 {
		return nil, fmt.Errorf("MOCKAPI_TOKEN_SECRET must be at least 16 characters")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("MOCKAPI_TOKEN_TTL must be positive")
	}
	return &cfg, nil
}
