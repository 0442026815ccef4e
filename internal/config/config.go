package config

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	monitoringPath = "/api/monitoring/prompt"
	controlPath    = "/api/control/prompt"
)

// Config holds every tunable of the SDK. Values are resolved from the
// environment first and may then be overridden by client options. After
// the client is built the configuration is read-only.
type Config struct {
	APIKey string `env:"OLAKAI_API_KEY"`
	Domain string `env:"OLAKAI_DOMAIN,default=https://app.olakai.ai"`

	BatchSize      int           `env:"OLAKAI_BATCH_SIZE,default=10"`
	BatchTimeout   time.Duration `env:"OLAKAI_BATCH_TIMEOUT,default=300ms"`
	Retries        int           `env:"OLAKAI_RETRIES,default=3"`
	RequestTimeout time.Duration `env:"OLAKAI_REQUEST_TIMEOUT,default=20s"`
	// ControlTimeout bounds the pre-call authorization request separately
	// from monitoring delivery. Zero means "use RequestTimeout".
	ControlTimeout time.Duration `env:"OLAKAI_CONTROL_TIMEOUT"`

	MaxQueueSize    int    `env:"OLAKAI_MAX_QUEUE_SIZE,default=1000"`
	StorageEnabled  bool   `env:"OLAKAI_STORAGE_ENABLED,default=true"`
	StoragePath     string `env:"OLAKAI_STORAGE_PATH"`
	MaxStorageBytes int64  `env:"OLAKAI_MAX_STORAGE_BYTES,default=1000000"`

	MaxFieldBytes int `env:"OLAKAI_MAX_FIELD_BYTES,default=16384"`

	SanitizePatternsPath string `env:"OLAKAI_SANITIZE_PATTERNS"`

	Debug   bool `env:"OLAKAI_DEBUG,default=false"`
	Verbose bool `env:"OLAKAI_VERBOSE,default=false"`
}

// Load resolves configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields no supervised call can run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is required")
	}
	if c.Domain != "" {
		if _, err := url.Parse(c.Domain); err != nil {
			return fmt.Errorf("invalid domain %q: %w", c.Domain, err)
		}
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive, got %d", c.MaxQueueSize)
	}
	return nil
}

// MonitoringURL is the batch delivery endpoint derived from Domain.
func (c *Config) MonitoringURL() string {
	return strings.TrimRight(c.Domain, "/") + monitoringPath
}

// ControlURL is the pre-call authorization endpoint derived from Domain.
func (c *Config) ControlURL() string {
	return strings.TrimRight(c.Domain, "/") + controlPath
}

// EffectiveControlTimeout resolves the control-stage timeout, falling back
// to the general request timeout when none was configured.
func (c *Config) EffectiveControlTimeout() time.Duration {
	if c.ControlTimeout > 0 {
		return c.ControlTimeout
	}
	return c.RequestTimeout
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "olakai-flush %s\n\n", version)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  OLAKAI_API_KEY=")
	fmt.Fprintln(w, "  OLAKAI_DOMAIN=https://app.olakai.ai")
	fmt.Fprintln(w, "  OLAKAI_BATCH_SIZE=10")
	fmt.Fprintln(w, "  OLAKAI_BATCH_TIMEOUT=300ms")
	fmt.Fprintln(w, "  OLAKAI_RETRIES=3")
	fmt.Fprintln(w, "  OLAKAI_REQUEST_TIMEOUT=20s")
	fmt.Fprintln(w, "  OLAKAI_CONTROL_TIMEOUT=")
	fmt.Fprintln(w, "  OLAKAI_MAX_QUEUE_SIZE=1000")
	fmt.Fprintln(w, "  OLAKAI_STORAGE_ENABLED=true")
	fmt.Fprintln(w, "  OLAKAI_STORAGE_PATH=")
	fmt.Fprintln(w, "  OLAKAI_MAX_STORAGE_BYTES=1000000")
	fmt.Fprintln(w, "  OLAKAI_MAX_FIELD_BYTES=16384")
	fmt.Fprintln(w, "  OLAKAI_SANITIZE_PATTERNS=")
	fmt.Fprintln(w, "  OLAKAI_DEBUG=false")
	fmt.Fprintln(w, "  OLAKAI_VERBOSE=false")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --help")
	fmt.Fprintln(w, "  --version")
}
