package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/shiplog/shiplog-go/internal/transport"
)

type Config struct {
	APIKey             string        `env:"SHIPLOG_API_KEY"`
	Host               string        `env:"SHIPLOG_HOST"`
	RequestTimeout     time.Duration `env:"SHIPLOG_REQUEST_TIMEOUT,default=10s"`
	MaxContentBytes    int           `env:"SHIPLOG_MAX_CONTENT_BYTES,default=4096"`
	MaxPendingEntries  int           `env:"SHIPLOG_MAX_PENDING_ENTRIES,default=500"`
	MaxPendingAge      time.Duration `env:"SHIPLOG_MAX_PENDING_AGE,default=168h"`
	PersistenceEnabled bool          `env:"SHIPLOG_PERSISTENCE_ENABLED,default=true"`
	CacheDir           string        `env:"SHIPLOG_CACHE_DIR"`
	ProbeInterval      time.Duration `env:"SHIPLOG_PROBE_INTERVAL,default=15s"`
	LogLevel           string        `env:"SHIPLOG_LOG_LEVEL,default=info"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, fmt.Errorf("%w: host missing", transport.ErrNotConfigured))
	}
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: api key missing", transport.ErrNotConfigured))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.MaxPendingEntries <= 0 {
		errs = append(errs, errors.New("max pending entries must be positive"))
	}
	if c.MaxPendingAge <= 0 {
		errs = append(errs, errors.New("max pending age must be positive"))
	}
	return errors.Join(errs...)
}

// ResolveCacheDir returns the configured cache directory, defaulting to
// an application-private subdirectory of the user cache location.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(base, "shiplog"), nil
}
