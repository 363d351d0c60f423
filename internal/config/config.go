// Package config provides configuration loading and management for the job
// sync server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hirepath/jobsync-server/internal/model"
)

// EnvPrefix is the prefix for all environment variables read by the server.
const EnvPrefix = "JOBSYNC"

const (
	defaultPageSize        = 100
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxRetries      = 5
	defaultLockName        = "job-sync"
	defaultLockTimeout     = 15 * time.Minute
	defaultStatsFlushPages = 5
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Source   SourceConfig    `yaml:"source"`
	Sync     SyncConfig      `yaml:"sync"`
	Server   ServerConfig    `yaml:"server,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// SourceConfig defines how to reach the remote ATS API.
type SourceConfig struct {
	// Endpoint is the base API URL (without path). The client appends the
	// job listing path and pagination parameters.
	Endpoint string `yaml:"endpoint"`

	// TokenFile is the path to a file containing the bearer credential.
	// This is the recommended approach for production deployments.
	TokenFile string `yaml:"tokenFile,omitempty"`

	// PageSize is the number of records requested per page.
	PageSize int `yaml:"pageSize,omitempty"`

	// RequestTimeout bounds a single HTTP request (e.g. "30s").
	RequestTimeout string `yaml:"requestTimeout,omitempty"`

	// MaxRetries is the number of retry attempts for transient failures
	// (429/5xx) before the fetch escalates to a run-level error.
	MaxRetries int `yaml:"maxRetries,omitempty"`
}

// SyncConfig defines synchronization behavior.
type SyncConfig struct {
	// Interval is how often the scheduler triggers a run (e.g. "30m").
	// Empty disables the built-in scheduler; runs are then manual only.
	Interval string `yaml:"interval,omitempty"`

	// Mode selects full or incremental for scheduled runs.
	Mode string `yaml:"mode,omitempty"`

	// LockTimeout is the duration after which a held sync lock is considered
	// stale and reclaimable (protects against crashed runs).
	LockTimeout string `yaml:"lockTimeout,omitempty"`

	// StatsFlushPages is how many pages are processed between incremental
	// persists of the run counters.
	StatsFlushPages int `yaml:"statsFlushPages,omitempty"`
}

// ServerConfig defines the HTTP listener settings.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080".
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing
	// whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of open connections in the pool
	MaxConns int32 `yaml:"maxConns,omitempty"`
}

// GetToken returns the source API credential using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from the JOBSYNC_SOURCE_TOKEN environment variable
//
// The token from file will have leading/trailing whitespace trimmed.
func (s *SourceConfig) GetToken() (string, error) {
	if s.TokenFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(s.TokenFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", s.TokenFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envToken := os.Getenv(EnvPrefix + "_SOURCE_TOKEN"); envToken != "" {
		return envToken, nil
	}

	return "", fmt.Errorf(
		"no source token configured: set source.tokenFile or the %s_SOURCE_TOKEN environment variable",
		EnvPrefix,
	)
}

// GetPageSize returns the configured page size or the default.
func (s *SourceConfig) GetPageSize() int {
	if s.PageSize <= 0 {
		return defaultPageSize
	}
	return s.PageSize
}

// GetRequestTimeout returns the per-request timeout, falling back to the
// default when unset. Validation guarantees the value parses.
func (s *SourceConfig) GetRequestTimeout() time.Duration {
	if s.RequestTimeout == "" {
		return defaultRequestTimeout
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return defaultRequestTimeout
	}
	return d
}

// GetMaxRetries returns the configured retry budget or the default.
func (s *SourceConfig) GetMaxRetries() int {
	if s.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return s.MaxRetries
}

// GetMode returns the sync mode for scheduled runs, defaulting to full.
func (s *SyncConfig) GetMode() model.SyncMode {
	if s.Mode == string(model.SyncModeIncremental) {
		return model.SyncModeIncremental
	}
	return model.SyncModeFull
}

// GetLockTimeout returns the staleness timeout for the sync lock.
func (s *SyncConfig) GetLockTimeout() time.Duration {
	if s.LockTimeout == "" {
		return defaultLockTimeout
	}
	d, err := time.ParseDuration(s.LockTimeout)
	if err != nil {
		return defaultLockTimeout
	}
	return d
}

// GetStatsFlushPages returns the page cadence for persisting run counters.
func (s *SyncConfig) GetStatsFlushPages() int {
	if s.StatsFlushPages <= 0 {
		return defaultStatsFlushPages
	}
	return s.StatsFlushPages
}

// GetAddress returns the HTTP listen address, defaulting to ":8080".
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the JOBSYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set database.passwordFile or the %s_DATABASE_PASSWORD environment variable",
		EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		password,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateSourceConfig(&c.Source); err != nil {
		return err
	}

	if err := validateSyncConfig(&c.Sync); err != nil {
		return err
	}

	return validateDatabaseConfig(c.Database)
}

// validateSourceConfig validates the remote source settings
func validateSourceConfig(src *SourceConfig) error {
	if src.Endpoint == "" {
		return fmt.Errorf("source.endpoint is required")
	}
	if !strings.HasPrefix(src.Endpoint, "http://") && !strings.HasPrefix(src.Endpoint, "https://") {
		return fmt.Errorf("source.endpoint must be an http(s) URL, got %q", src.Endpoint)
	}
	if src.PageSize < 0 {
		return fmt.Errorf("source.pageSize must be positive, got %d", src.PageSize)
	}
	if src.RequestTimeout != "" {
		if _, err := time.ParseDuration(src.RequestTimeout); err != nil {
			return fmt.Errorf("source.requestTimeout must be a valid duration (e.g. '30s'): %w", err)
		}
	}
	if src.MaxRetries < 0 {
		return fmt.Errorf("source.maxRetries must be positive, got %d", src.MaxRetries)
	}
	return nil
}

// validateSyncConfig validates the sync policy settings
func validateSyncConfig(sc *SyncConfig) error {
	if sc.Interval != "" {
		if _, err := time.ParseDuration(sc.Interval); err != nil {
			return fmt.Errorf("sync.interval must be a valid duration (e.g. '30m', '1h'): %w", err)
		}
	}
	if sc.Mode != "" && sc.Mode != string(model.SyncModeFull) && sc.Mode != string(model.SyncModeIncremental) {
		return fmt.Errorf("sync.mode must be %q or %q, got %q",
			model.SyncModeFull, model.SyncModeIncremental, sc.Mode)
	}
	if sc.LockTimeout != "" {
		if _, err := time.ParseDuration(sc.LockTimeout); err != nil {
			return fmt.Errorf("sync.lockTimeout must be a valid duration: %w", err)
		}
	}
	if sc.StatsFlushPages < 0 {
		return fmt.Errorf("sync.statsFlushPages must be positive, got %d", sc.StatsFlushPages)
	}
	return nil
}

// validateDatabaseConfig validates the database connection settings
func validateDatabaseConfig(db *DatabaseConfig) error {
	if db == nil {
		return fmt.Errorf("database configuration is required")
	}
	if db.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if db.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if db.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if db.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return nil
}

// LockName returns the name of the mutual-exclusion token guarding runs.
// A single name is used: no two runs may overlap, regardless of trigger.
func (*Config) LockName() string {
	return defaultLockName
}
