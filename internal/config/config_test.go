// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, env fallbacks, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks the fallback variables so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("LOG_LEVEL", "")
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)

	configPath := writeConfig(t, "server.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "127.0.0.1:50051"
  shutdown_timeout: "15s"

transport:
  kind: telegram
  parse_mode: MarkdownV2

telegram:
  bot_token: "123:abc"

cache:
  retention: "10m"
  sweep_interval: "30s"

database:
  path: "./ledger.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "127.0.0.1:50051")
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 15*time.Second)
	}
	if cfg.Transport.ParseMode != "MarkdownV2" {
		t.Errorf("Transport.ParseMode = %q, want %q", cfg.Transport.ParseMode, "MarkdownV2")
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("Telegram.BotToken = %q, want %q", cfg.Telegram.BotToken, "123:abc")
	}
	if cfg.Cache.Retention != 10*time.Minute {
		t.Errorf("Cache.Retention = %v, want %v", cfg.Cache.Retention, 10*time.Minute)
	}
	if cfg.Cache.SweepInterval != 30*time.Second {
		t.Errorf("Cache.SweepInterval = %v, want %v", cfg.Cache.SweepInterval, 30*time.Second)
	}
	if cfg.LedgerDSN() != "./ledger.db" {
		t.Errorf("LedgerDSN() = %q, want %q", cfg.LedgerDSN(), "./ledger.db")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)

	configPath := writeConfig(t, "server.toml", `
[transport]
kind = "matrix"

[matrix]
homeserver = "https://matrix.example.org"
user_id = "@famlogger:example.org"
access_token = "syt_token"

[database]
driver = "postgres"
dsn = "postgres://localhost/famlogger?sslmode=disable"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport.Kind != TransportMatrix {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, TransportMatrix)
	}
	if cfg.Matrix.UserID != "@famlogger:example.org" {
		t.Errorf("Matrix.UserID = %q, want %q", cfg.Matrix.UserID, "@famlogger:example.org")
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if !strings.HasPrefix(cfg.LedgerDSN(), "postgres://") {
		t.Errorf("LedgerDSN() = %q, want postgres DSN", cfg.LedgerDSN())
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("FAMLOGGER_TEST_TOKEN", "777:xyz")
	t.Setenv("FAMLOGGER_TEST_SECRET", "super-secret-key-that-is-long-enough")

	configPath := writeConfig(t, "server.yaml", `
telegram:
  bot_token: "${FAMLOGGER_TEST_TOKEN}"
auth:
  jwt_secret: "${FAMLOGGER_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Telegram.BotToken != "777:xyz" {
		t.Errorf("Telegram.BotToken = %q, want %q", cfg.Telegram.BotToken, "777:xyz")
	}
	if cfg.Auth.JWTSecret != "super-secret-key-that-is-long-enough" {
		t.Errorf("Auth.JWTSecret = %q, want expanded secret", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "4000")
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":4000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":4000")
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("Telegram.BotToken = %q, want %q", cfg.Telegram.BotToken, "from-env")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoad_FileWinsOverEnvFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "4000")
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")

	configPath := writeConfig(t, "server.yaml", `
server:
  http_addr: ":9000"
telegram:
  bot_token: "from-file"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":9000")
	}
	if cfg.Telegram.BotToken != "from-file" {
		t.Errorf("Telegram.BotToken = %q, want %q", cfg.Telegram.BotToken, "from-file")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":3000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":3000")
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Transport.Kind != TransportTelegram || cfg.Transport.ParseMode != "HTML" {
		t.Errorf("Transport = %+v, want telegram/HTML", cfg.Transport)
	}
	if cfg.Cache.Retention != 5*time.Minute || cfg.Cache.SweepInterval != time.Minute {
		t.Errorf("Cache = %v/%v, want 5m/1m", cfg.Cache.Retention, cfg.Cache.SweepInterval)
	}
	if cfg.LedgerDSN() != "" {
		t.Errorf("LedgerDSN() = %q, want ledger disabled", cfg.LedgerDSN())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error without a bot token")
	}
	if !strings.Contains(err.Error(), "bot_token") {
		t.Errorf("error = %v, want mention of bot_token", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "server.yaml", "server: [unclosed")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "server.yaml", `
telegram:
  bot_token: "tok"
cache:
  retention: "forever"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "retention") {
		t.Errorf("error = %v, want mention of retention", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FAMLOGGER_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${FAMLOGGER_A}", "alpha"},
		{"x-${FAMLOGGER_A}-y", "x-alpha-y"},
		{"${FAMLOGGER_UNSET_VAR}", ""},
		{"$FAMLOGGER_A", "$FAMLOGGER_A"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid telegram",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Transport.Kind = "slack" },
			wantErr: "transport.kind",
		},
		{
			name:    "incomplete matrix",
			mutate:  func(c *Config) { c.Transport.Kind = TransportMatrix; c.Matrix.Homeserver = "https://m.example" },
			wantErr: "matrix.",
		},
		{
			name:    "bad parse mode",
			mutate:  func(c *Config) { c.Transport.ParseMode = "Markdown" },
			wantErr: "parse_mode",
		},
		{
			name:    "retention too short",
			mutate:  func(c *Config) { c.Cache.Retention = 500 * time.Millisecond },
			wantErr: "retention",
		},
		{
			name:    "tailscale without hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true },
			wantErr: "tailscale.hostname",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "database.driver",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Telegram.BotToken = "tok"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
