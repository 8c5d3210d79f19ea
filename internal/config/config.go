// Package config provides YAML configuration loading with validation and
// environment variable substitution for the failover manager.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default role names used when the corresponding failover setting is blank.
const (
	DefaultPrimaryName  = "primary"
	DefaultFailoverName = "failover"
	DefaultBlockingName = "blocking"
)

// Config is the top-level failover manager configuration.
type Config struct {
	Failover    FailoverConfig              `yaml:"failover" json:"failover"`
	Probe       ProbeConfig                 `yaml:"probe" json:"probe"`
	Cache       CacheConfig                 `yaml:"cache" json:"cache"`
	Connections map[string]ConnectionConfig `yaml:"connections" json:"connections"`
	Check       CheckConfig                 `yaml:"check" json:"check"`
	Server      ServerConfig                `yaml:"server" json:"server"`
	Metrics     MetricsConfig               `yaml:"metrics" json:"metrics"`
	Admin       AdminConfig                 `yaml:"admin" json:"admin"`
	Logging     LoggingConfig               `yaml:"logging" json:"logging"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// FailoverConfig names the three connection roles and sets the hysteresis
// threshold. Role names and the threshold are fixed for the lifetime of a
// running instance; only the check cadence and log level may be hot-reloaded.
type FailoverConfig struct {
	Enabled            *bool  `yaml:"enabled" json:"enabled"`
	PrimaryConnection  string `yaml:"primary_connection" json:"primary_connection"`
	FailoverConnection string `yaml:"failover_connection" json:"failover_connection"`
	BlockingConnection string `yaml:"blocking_connection" json:"blocking_connection"`
	FailureThreshold   int    `yaml:"failure_threshold" json:"failure_threshold"`
}

// IsEnabled returns whether failover management is enabled (defaults to true).
func (f FailoverConfig) IsEnabled() bool {
	if f.Enabled == nil {
		return true
	}
	return *f.Enabled
}

// ProbeConfig holds the liveness check payload and its per-query time budget.
type ProbeConfig struct {
	Query     string `yaml:"query" json:"query"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// Timeout returns the probe time budget as a time.Duration.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// CacheConfig holds health record persistence settings.
type CacheConfig struct {
	Backend    string      `yaml:"backend" json:"backend"` // "redis" or "memory"; default: "memory"
	KeyPrefix  string      `yaml:"key_prefix" json:"key_prefix"`
	TTLSeconds int         `yaml:"ttl_seconds" json:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis" json:"redis"`
}

// TTL returns the health record lifetime as a time.Duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig holds connection settings for the Redis health record store.
type RedisConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	Password       string `yaml:"password" json:"-"`
	DB             int    `yaml:"db" json:"db"`
	DialTimeoutMs  int    `yaml:"dial_timeout_ms" json:"dial_timeout_ms"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms" json:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms" json:"write_timeout_ms"`
	PoolSize       int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns   int    `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DialTimeout returns the Redis dial timeout as a time.Duration.
func (r RedisConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the Redis read timeout as a time.Duration.
func (r RedisConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the Redis write timeout as a time.Duration.
func (r RedisConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutMs) * time.Millisecond
}

// ConnectionConfig defines one named database connection target.
type ConnectionConfig struct {
	Driver                 string `yaml:"driver" json:"driver"` // "mysql" or "postgres"
	DSN                    string `yaml:"dsn" json:"-"`
	MaxOpenConns           int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds" json:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime returns the pooled connection lifetime as a time.Duration.
func (c ConnectionConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ValidDrivers are the accepted database driver names.
var ValidDrivers = map[string]bool{
	"mysql":    true,
	"postgres": true,
}

// CheckConfig holds the periodic health check cadence.
type CheckConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
}

// Interval returns the check cadence as a time.Duration.
func (c CheckConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ServerConfig holds HTTP server settings for the health, metrics, and
// admin endpoints.
type ServerConfig struct {
	Port                   int       `yaml:"port" json:"port"`
	ReadTimeoutSeconds     int       `yaml:"read_timeout_seconds" json:"read_timeout_seconds"`
	WriteTimeoutSeconds    int       `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int       `yaml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	TrustedProxies         []string  `yaml:"trusted_proxies" json:"trusted_proxies"` // CIDR notation
	TLS                    TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig holds the certificate pair for serving the ops endpoints over
// TLS. Leaving both paths blank serves plain HTTP.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// Enabled returns whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// ReadTimeout returns the server read timeout as a time.Duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server write timeout as a time.Duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget as a time.Duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool            `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string        `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
	Auth        AdminAuthConfig `yaml:"auth" json:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// AdminAuthConfig holds JWT bearer token settings for the admin API.
type AdminAuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	JWTSecret string   `yaml:"jwt_secret" json:"-"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// RateLimitConfig holds the admin API rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// LoggingConfig holds structured log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`            // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`          // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// SlogLevel maps the configured level string to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Role fallbacks must be detected before applyDefaults substitutes them.
	warnings := roleNameWarnings(&cfg)

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = append(warnings, collectWarnings(&cfg)...)

	return &cfg, nil
}

// roleNameWarnings reports blank connection role names. A blank role is not
// fatal; the built-in default name is substituted instead.
func roleNameWarnings(cfg *Config) []string {
	var warnings []string
	if strings.TrimSpace(cfg.Failover.PrimaryConnection) == "" {
		warnings = append(warnings, fmt.Sprintf("failover.primary_connection is blank; falling back to %q", DefaultPrimaryName))
	}
	if strings.TrimSpace(cfg.Failover.FailoverConnection) == "" {
		warnings = append(warnings, fmt.Sprintf("failover.failover_connection is blank; falling back to %q", DefaultFailoverName))
	}
	if strings.TrimSpace(cfg.Failover.BlockingConnection) == "" {
		warnings = append(warnings, fmt.Sprintf("failover.blocking_connection is blank; falling back to %q", DefaultBlockingName))
	}
	return warnings
}

func applyDefaults(cfg *Config) {
	// Role name fallbacks. A blank role name is a config inconsistency,
	// not a fatal error; collectWarnings reports the substitution.
	if strings.TrimSpace(cfg.Failover.PrimaryConnection) == "" {
		cfg.Failover.PrimaryConnection = DefaultPrimaryName
	}
	if strings.TrimSpace(cfg.Failover.FailoverConnection) == "" {
		cfg.Failover.FailoverConnection = DefaultFailoverName
	}
	if strings.TrimSpace(cfg.Failover.BlockingConnection) == "" {
		cfg.Failover.BlockingConnection = DefaultBlockingName
	}
	if cfg.Failover.FailureThreshold == 0 {
		cfg.Failover.FailureThreshold = 3
	}

	if cfg.Probe.Query == "" {
		cfg.Probe.Query = "SELECT 1"
	}
	if cfg.Probe.TimeoutMs == 0 {
		cfg.Probe.TimeoutMs = 2000
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "dbfailover:health:"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Cache.Redis.DialTimeoutMs == 0 {
		cfg.Cache.Redis.DialTimeoutMs = 5000
	}
	if cfg.Cache.Redis.ReadTimeoutMs == 0 {
		cfg.Cache.Redis.ReadTimeoutMs = 3000
	}
	if cfg.Cache.Redis.WriteTimeoutMs == 0 {
		cfg.Cache.Redis.WriteTimeoutMs = 3000
	}
	if cfg.Cache.Redis.PoolSize == 0 {
		cfg.Cache.Redis.PoolSize = 10
	}

	if cfg.Check.IntervalSeconds == 0 {
		cfg.Check.IntervalSeconds = 10
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 10
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Admin.RateLimit.RequestsPerSecond == 0 {
		cfg.Admin.RateLimit.RequestsPerSecond = 5
	}
	if cfg.Admin.RateLimit.BurstSize == 0 {
		cfg.Admin.RateLimit.BurstSize = 10
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}

	// Pool defaults per connection.
	for name, cc := range cfg.Connections {
		if cc.MaxOpenConns == 0 {
			cc.MaxOpenConns = 10
		}
		if cc.MaxIdleConns == 0 {
			cc.MaxIdleConns = 5
		}
		if cc.ConnMaxLifetimeSeconds == 0 {
			cc.ConnMaxLifetimeSeconds = 300
		}
		cfg.Connections[name] = cc
	}
}

func validate(cfg *Config) error {
	f := cfg.Failover
	if f.FailureThreshold < 1 {
		return fmt.Errorf("failover.failure_threshold must be at least 1, got %d", f.FailureThreshold)
	}
	if f.PrimaryConnection == f.FailoverConnection {
		return fmt.Errorf("failover.primary_connection and failover.failover_connection must differ, both are %q", f.PrimaryConnection)
	}
	if f.BlockingConnection == f.PrimaryConnection || f.BlockingConnection == f.FailoverConnection {
		return fmt.Errorf("failover.blocking_connection %q collides with a probed connection role", f.BlockingConnection)
	}

	if cfg.Probe.TimeoutMs < 1 {
		return fmt.Errorf("probe.timeout_ms must be positive")
	}

	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTLSeconds < 1 {
		return fmt.Errorf("cache.ttl_seconds must be positive")
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when cache.backend is \"redis\"")
	}

	for name, cc := range cfg.Connections {
		if name == f.BlockingConnection {
			return fmt.Errorf("connections.%s: the blocking connection is synthetic and must not be configured", name)
		}
		if !ValidDrivers[cc.Driver] {
			return fmt.Errorf("connections.%s.driver must be \"mysql\" or \"postgres\", got %q", name, cc.Driver)
		}
		if cc.DSN == "" {
			return fmt.Errorf("connections.%s.dsn is required", name)
		}
	}

	// The daemon needs real targets behind both probed roles. The check
	// subcommands share this requirement, so missing role targets are a
	// hard error rather than a warning.
	if f.IsEnabled() {
		if _, ok := cfg.Connections[f.PrimaryConnection]; !ok {
			return fmt.Errorf("connections.%s is required (primary role)", f.PrimaryConnection)
		}
		if _, ok := cfg.Connections[f.FailoverConnection]; !ok {
			return fmt.Errorf("connections.%s is required (failover role)", f.FailoverConnection)
		}
	}

	if cfg.Check.IntervalSeconds < 1 {
		return fmt.Errorf("check.interval_seconds must be at least 1")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires both cert_file and key_file")
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
		if cfg.Admin.Auth.Enabled {
			if cfg.Admin.Auth.JWTSecret == "" {
				return fmt.Errorf("admin.auth.jwt_secret is required when admin auth is enabled")
			}
			if cfg.Admin.Auth.Issuer == "" {
				return fmt.Errorf("admin.auth.issuer is required when admin auth is enabled")
			}
			if cfg.Admin.Auth.Audience == "" {
				return fmt.Errorf("admin.auth.audience is required when admin auth is enabled")
			}
		}
		if cfg.Admin.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("admin.rate_limit.requests_per_second must be positive")
		}
		if cfg.Admin.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("admin.rate_limit.burst_size must be positive")
		}
	}

	// Logging validation
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string

	if cfg.Cache.Backend == "memory" {
		warnings = append(warnings, "cache.backend \"memory\" is process-local; health state will not be shared across instances")
	}
	if cfg.Cache.Backend == "redis" && strings.Contains(cfg.Cache.Redis.Addr, "${") {
		warnings = append(warnings, "cache.redis.addr contains unresolved environment variable")
	}
	if cfg.Admin.Auth.Enabled && strings.Contains(cfg.Admin.Auth.JWTSecret, "${") {
		warnings = append(warnings, "admin.auth.jwt_secret contains unresolved environment variable")
	}
	for name, cc := range cfg.Connections {
		if strings.Contains(cc.DSN, "${") {
			warnings = append(warnings, fmt.Sprintf("connections.%s.dsn contains unresolved environment variable", name))
		}
	}

	return warnings
}
