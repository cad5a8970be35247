// ABOUTME: Configuration loading and parsing for the matdevis gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // presentation.timezone must resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the file leaves a field unset.
const (
	DefaultHTTPAddr      = "0.0.0.0:8080"
	DefaultRequiredScope = "matdevis:devis"
	DefaultLeeway        = 30 * time.Second
	DefaultCacheTTL      = time.Hour
	DefaultFetchTimeout  = 5 * time.Second
	DefaultRateRequests  = 10
	DefaultRatePer       = time.Minute
	DefaultMetricsPath   = "/metrics"
	DefaultOrigin        = "https://chatgpt.com"
)

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the complete gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	CORS         CORSConfig         `yaml:"cors" toml:"cors"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	JWKS         JWKSConfig         `yaml:"jwks" toml:"jwks"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
	Presentation PresentationConfig `yaml:"presentation" toml:"presentation"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the public URL of the gateway. When set, the protected
	// resource metadata advertises BaseURL + "/mcp".
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// CORSConfig holds the cross-origin policy
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	Enabled               bool   `yaml:"enabled" toml:"enabled"`
	Issuer                string `yaml:"issuer" toml:"issuer"`
	Audience              string `yaml:"audience" toml:"audience"`
	RequiredScope         string `yaml:"required_scope" toml:"required_scope"`
	JWKSURL               string `yaml:"jwks_url" toml:"jwks_url"`
	AuthorizationEndpoint string `yaml:"authorization_endpoint" toml:"authorization_endpoint"`
	TokenEndpoint         string `yaml:"token_endpoint" toml:"token_endpoint"`

	Leeway    time.Duration `yaml:"-" toml:"-"`
	LeewayRaw string        `yaml:"leeway" toml:"leeway"`
}

// JWKSConfig holds signing key cache settings
type JWKSConfig struct {
	CacheTTL     time.Duration `yaml:"-" toml:"-"`
	FetchTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	CacheTTLRaw     string `yaml:"cache_ttl" toml:"cache_ttl"`
	FetchTimeoutRaw string `yaml:"fetch_timeout" toml:"fetch_timeout"`

	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig bounds outbound key set fetches
type RateLimitConfig struct {
	Requests    int    `yaml:"requests" toml:"requests"`
	Wait        bool   `yaml:"wait" toml:"wait"`
	Backend     string `yaml:"backend" toml:"backend"` // memory or redis
	RedisAddr   string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" toml:"redis_prefix"`

	Per    time.Duration `yaml:"-" toml:"-"`
	PerRaw string        `yaml:"per" toml:"per"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// PresentationConfig selects how replies are rendered
type PresentationConfig struct {
	Format   string `yaml:"format" toml:"format"` // markdown or html
	Timezone string `yaml:"timezone" toml:"timezone"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and auth disabled.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{DefaultOrigin}
	}

	if c.Auth.RequiredScope == "" {
		c.Auth.RequiredScope = DefaultRequiredScope
	}
	if c.Auth.LeewayRaw == "" && c.Auth.Leeway == 0 {
		c.Auth.Leeway = DefaultLeeway
	}
	if c.Auth.Issuer != "" {
		issuer := strings.TrimSuffix(c.Auth.Issuer, "/")
		if c.Auth.JWKSURL == "" {
			c.Auth.JWKSURL = issuer + "/.well-known/jwks.json"
		}
		if c.Auth.AuthorizationEndpoint == "" {
			c.Auth.AuthorizationEndpoint = issuer + "/authorize"
		}
		if c.Auth.TokenEndpoint == "" {
			c.Auth.TokenEndpoint = issuer + "/oauth/token"
		}
	}

	if c.JWKS.CacheTTL == 0 {
		c.JWKS.CacheTTL = DefaultCacheTTL
	}
	if c.JWKS.FetchTimeout == 0 {
		c.JWKS.FetchTimeout = DefaultFetchTimeout
	}
	rl := &c.JWKS.RateLimit
	if rl.Requests == 0 {
		rl.Requests = DefaultRateRequests
	}
	if rl.Per == 0 {
		rl.Per = DefaultRatePer
	}
	if rl.Backend == "" {
		rl.Backend = BackendMemory
	}
	if rl.RedisPrefix == "" {
		rl.RedisPrefix = "matdevis:jwks:"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Presentation.Format == "" {
		c.Presentation.Format = "markdown"
	}
	if c.Presentation.Timezone == "" {
		c.Presentation.Timezone = "Europe/Paris"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.BaseURL != "" {
		if err := validateURL("server.base_url", c.Server.BaseURL); err != nil {
			return err
		}
	}

	if c.Auth.Enabled {
		if c.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if err := validateURL("auth.issuer", c.Auth.Issuer); err != nil {
			return err
		}
		if c.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
		if err := validateURL("auth.jwks_url", c.Auth.JWKSURL); err != nil {
			return err
		}
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("auth.leeway must not be negative")
	}

	if c.JWKS.CacheTTL < 0 || c.JWKS.FetchTimeout < 0 {
		return fmt.Errorf("jwks durations must not be negative")
	}
	rl := c.JWKS.RateLimit
	if rl.Requests < 0 {
		return fmt.Errorf("jwks.rate_limit.requests must not be negative")
	}
	switch rl.Backend {
	case BackendMemory:
	case BackendRedis:
		if rl.RedisAddr == "" {
			return fmt.Errorf("jwks.rate_limit.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("jwks.rate_limit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, rl.Backend)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch c.Presentation.Format {
	case "markdown", "html":
	default:
		return fmt.Errorf("presentation.format must be markdown or html, got %q", c.Presentation.Format)
	}
	if _, err := time.LoadLocation(c.Presentation.Timezone); err != nil {
		return fmt.Errorf("presentation.timezone: %w", err)
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.leeway", cfg.Auth.LeewayRaw, &cfg.Auth.Leeway},
		{"jwks.cache_ttl", cfg.JWKS.CacheTTLRaw, &cfg.JWKS.CacheTTL},
		{"jwks.fetch_timeout", cfg.JWKS.FetchTimeoutRaw, &cfg.JWKS.FetchTimeout},
		{"jwks.rate_limit.per", cfg.JWKS.RateLimit.PerRaw, &cfg.JWKS.RateLimit.Per},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
