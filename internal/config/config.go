// ABOUTME: Configuration loading and parsing for famlogger-server
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportTelegram = "telegram"
	TransportMatrix   = "matrix"
)

// Config represents the complete famlogger-server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr serves the gRPC health service when set
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// TransportConfig selects the outbound messaging provider
type TransportConfig struct {
	Kind      string `yaml:"kind" toml:"kind"`             // telegram, matrix
	ParseMode string `yaml:"parse_mode" toml:"parse_mode"` // HTML, MarkdownV2, plain
}

// TelegramConfig holds Telegram Bot API configuration
type TelegramConfig struct {
	BotToken    string `yaml:"bot_token" toml:"bot_token"`
	APIEndpoint string `yaml:"api_endpoint" toml:"api_endpoint"`
}

// MatrixConfig holds Matrix client configuration
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
}

// CacheConfig holds dedupe cache timing
type CacheConfig struct {
	Retention     time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RetentionRaw     string `yaml:"retention" toml:"retention"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// DatabaseConfig holds the dispatch ledger configuration.
// An empty Path and DSN disables the ledger.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, postgres
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// PORT, TELEGRAM_BOT_TOKEN and LOG_LEVEL variables fill fields left empty.
// A missing file is not an error; the environment alone may configure the server.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(path, expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv fills empty fields from the plain environment variables the
// server has always honoured.
func applyEnv(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.HTTPAddr = ":" + port
		}
	}
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = os.Getenv("LOG_LEVEL")
	}
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":3000"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportTelegram
	}
	if c.Transport.ParseMode == "" {
		c.Transport.ParseMode = "HTML"
	}
	if c.Cache.Retention == 0 {
		c.Cache.Retention = 5 * time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// LedgerDSN returns the data source for the dispatch ledger, or "" when it is disabled.
func (c *Config) LedgerDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return c.Database.Path
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Transport.Kind {
	case TransportTelegram:
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required (or set TELEGRAM_BOT_TOKEN)")
		}
	case TransportMatrix:
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.homeserver, matrix.user_id and matrix.access_token are required for the matrix transport")
		}
	default:
		return fmt.Errorf("transport.kind must be %q or %q, got %q", TransportTelegram, TransportMatrix, c.Transport.Kind)
	}

	switch c.Transport.ParseMode {
	case "HTML", "MarkdownV2", "plain":
	default:
		return fmt.Errorf("transport.parse_mode must be HTML, MarkdownV2 or plain, got %q", c.Transport.ParseMode)
	}

	if c.Cache.Retention < time.Second {
		return fmt.Errorf("cache.retention must be at least 1s")
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Cache.RetentionRaw != "" {
		cfg.Cache.Retention, err = time.ParseDuration(cfg.Cache.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing retention %q: %w", cfg.Cache.RetentionRaw, err)
		}
	}

	if cfg.Cache.SweepIntervalRaw != "" {
		cfg.Cache.SweepInterval, err = time.ParseDuration(cfg.Cache.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Cache.SweepIntervalRaw, err)
		}
	}

	return nil
}
