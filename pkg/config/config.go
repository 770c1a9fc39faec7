// Package config loads the dbsessiond configuration.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the health and debug HTTP listener.
type ServerConfig struct {
	Address  string         `yaml:"address"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// ShutdownConfig configures graceful shutdown.
type ShutdownConfig struct {
	// GracePeriod bounds the whole shutdown sequence.
	GracePeriod time.Duration `yaml:"grace_period"`

	// PreShutdownDelay keeps serving while readiness reports draining, so
	// load balancers stop routing before connections close.
	PreShutdownDelay time.Duration `yaml:"pre_shutdown_delay"`
}

// DatabaseConfig configures the database client. DSN wins over the
// individual fields when set.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "postgres" (lib/pq) or "pgx"
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionsConfig configures the session manager.
type SessionsConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Defaults.
const (
	DefaultAddress          = ":8080"
	DefaultDriver           = "postgres"
	DefaultPort             = 5432
	DefaultSSLMode          = "disable"
	DefaultMaxOpenConns     = 25
	DefaultIdleTimeout      = time.Minute
	DefaultGracePeriod      = 25 * time.Second
	DefaultPreShutdownDelay = 2 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path, expands ${VAR} references, applies
// environment overrides and defaults. An empty path loads from the
// environment only. The path is expected to come from the command line.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyEnv overrides file values with DB_* and DBSESSION_* variables.
func applyEnv(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"DB_DRIVER", &cfg.Database.Driver},
		{"DB_DSN", &cfg.Database.DSN},
		{"DB_HOST", &cfg.Database.Host},
		{"DB_NAME", &cfg.Database.Name},
		{"DB_USER", &cfg.Database.User},
		{"DB_PASSWORD", &cfg.Database.Password},
		{"DB_SSLMODE", &cfg.Database.SSLMode},
		{"DBSESSION_ADDRESS", &cfg.Server.Address},
		{"DBSESSION_LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, s := range strs {
		if v := os.Getenv(s.name); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing DB_PORT: %w", err)
		}
		cfg.Database.Port = port
	}
	if v := os.Getenv("DBSESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing DBSESSION_IDLE_TIMEOUT: %w", err)
		}
		cfg.Sessions.IdleTimeout = d
	}
	return nil
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultAddress
	}
	if cfg.Server.Shutdown.GracePeriod == 0 {
		cfg.Server.Shutdown.GracePeriod = DefaultGracePeriod
	}
	if cfg.Server.Shutdown.PreShutdownDelay == 0 {
		cfg.Server.Shutdown.PreShutdownDelay = DefaultPreShutdownDelay
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultPort
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultSSLMode
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.Sessions.IdleTimeout == 0 {
		cfg.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of postgres, pgx", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required when database.dsn is not set")
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required when database.dsn is not set")
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required when database.dsn is not set")
		}
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port %d is out of range", c.Database.Port))
	}
	if c.Database.MaxOpenConns == 1 || c.Database.MaxOpenConns < 0 {
		errs = append(errs, fmt.Sprintf("database.max_open_conns %d leaves no connection for write transactions; use 0 or at least 2", c.Database.MaxOpenConns))
	}
	if c.Sessions.IdleTimeout <= 0 {
		errs = append(errs, "sessions.idle_timeout must be positive")
	}
	if c.Sessions.ConnectTimeout < 0 {
		errs = append(errs, "sessions.connect_timeout must not be negative")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConnString returns the DSN, assembling a postgres:// URL from the
// individual fields when no DSN is configured.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", l.Level, err)
	}
	return level, nil
}
