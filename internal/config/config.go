// Package config provides configuration management for the paper broker.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/papertrade-io/paperbroker/internal/validate"
)

const (
	// defaultRequestTimeout bounds each HTTP request when unset.
	defaultRequestTimeout = "30s"
	// defaultExpirationSchedule runs the sweep shortly after the close.
	defaultExpirationSchedule = "30 16 * * MON-FRI"
	// defaultVolatility prices simulated option chains when unset.
	defaultVolatility = 0.20
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Limits      validate.Limits   `yaml:"limits"`
	Expiration  ExpirationConfig  `yaml:"expiration"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	AuthToken      string `yaml:"auth_token"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StorageConfig selects and locates the account store.
type StorageConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

// QuotesConfig configures the market-data source.
type QuotesConfig struct {
	Source string `yaml:"source"` // sim | static
	// Volatility prices simulated option chains.
	Volatility float64 `yaml:"volatility"`
	Seed       uint64  `yaml:"seed"`
	// CircuitBreaker wraps the source so a flapping provider fails fast.
	CircuitBreaker bool `yaml:"circuit_breaker"`
}

// ExecutionConfig tunes order execution.
type ExecutionConfig struct {
	// Estimator is the default price model: midpoint | market | slippage.
	Estimator      string  `yaml:"estimator"`
	SlippageFactor float64 `yaml:"slippage_factor"`
	Commission     struct {
		PerShare    float64 `yaml:"per_share"`
		PerContract float64 `yaml:"per_contract"`
	} `yaml:"commission"`
	SweepExpirationsOnSubmit bool `yaml:"sweep_expirations_on_submit"`
}

// ExpirationConfig schedules the daily sweep.
type ExpirationConfig struct {
	Schedule string `yaml:"schedule"` // cron expression
	Timezone string `yaml:"timezone"` // e.g. "America/New_York"
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate checks that all configuration values are valid and
// consistent, applying defaults for optional fields.
func (c *Config) Validate() error {
	c.normalize()

	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn, or error")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, err := time.ParseDuration(c.Server.RequestTimeout); err != nil {
		return fmt.Errorf("server.request_timeout invalid: %w", err)
	}

	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	switch c.Quotes.Source {
	case "sim", "static":
	default:
		return fmt.Errorf("quotes.source must be 'sim' or 'static'")
	}
	if c.Quotes.Volatility <= 0 || c.Quotes.Volatility > 5 {
		return fmt.Errorf("quotes.volatility must be in (0, 5]")
	}

	switch c.Execution.Estimator {
	case "midpoint", "market", "slippage":
	default:
		return fmt.Errorf("execution.estimator must be 'midpoint', 'market', or 'slippage'")
	}
	if c.Execution.Estimator == "slippage" &&
		(c.Execution.SlippageFactor < -1 || c.Execution.SlippageFactor > 1) {
		return fmt.Errorf("execution.slippage_factor must be within [-1, 1]")
	}
	if c.Execution.Commission.PerShare < 0 || c.Execution.Commission.PerContract < 0 {
		return fmt.Errorf("execution.commission values must be non-negative")
	}

	if c.Limits.MaxPositionNotional < 0 || c.Limits.MaxGrossExposure < 0 ||
		c.Limits.MaxDailyLoss < 0 || c.Limits.MaxPortfolioDelta < 0 {
		return fmt.Errorf("limits values must be non-negative (zero disables a limit)")
	}

	tz := c.Expiration.Timezone
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("expiration.timezone invalid: %w", err)
	}
	return nil
}

// normalize fills defaults for optional fields.
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = defaultRequestTimeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Quotes.Source == "" {
		c.Quotes.Source = "sim"
	}
	if c.Quotes.Volatility == 0 {
		c.Quotes.Volatility = defaultVolatility
	}
	if c.Execution.Estimator == "" {
		c.Execution.Estimator = "midpoint"
	}
	if c.Expiration.Schedule == "" {
		c.Expiration.Schedule = defaultExpirationSchedule
	}
	if c.Expiration.Timezone == "" {
		c.Expiration.Timezone = "America/New_York"
	}
}

// RequestTimeout returns the parsed server request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ExpirationLocation returns the sweep's timezone, falling back to a
// DST-agnostic Eastern zone for minimal containers.
func (c *Config) ExpirationLocation() *time.Location {
	loc, err := time.LoadLocation(c.Expiration.Timezone)
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}
