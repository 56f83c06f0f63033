// ABOUTME: Tests for CLI helpers: config paths, health URLs, token minting, init and logging
// ABOUTME: Drives init with scripted stdin and loads the generated file through config.Load

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhtaT/famlogger-server/internal/auth"
	"github.com/MuhtaT/famlogger-server/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("FAMLOGGER_CONFIG", "/etc/famlogger.yaml")
	assert.Equal(t, "/etc/famlogger.yaml", getConfigPath())

	t.Setenv("FAMLOGGER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "famlogger", "server.yaml"), getConfigPath())
}

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		":3000":          "http://localhost:3000/health",
		"0.0.0.0:8080":   "http://localhost:8080/health",
		"127.0.0.1:9000": "http://127.0.0.1:9000/health",
		"[::]:3000":      "http://localhost:3000/health",
		"famlogger:80":   "http://famlogger:80/health",
	}
	for addr, want := range tests {
		assert.Equal(t, want, healthURL(addr), addr)
	}
}

func TestGinMode(t *testing.T) {
	assert.Equal(t, gin.DebugMode, ginMode("debug"))
	assert.Equal(t, gin.ReleaseMode, ginMode("info"))
	assert.Equal(t, gin.ReleaseMode, ginMode(""))
}

func TestMintToken(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"

	token, err := mintToken(secret, "doorbell", time.Hour)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "doorbell", sub)

	_, err = mintToken("", "doorbell", time.Hour)
	assert.Error(t, err)
	_, err = mintToken(secret, "", time.Hour)
	assert.Error(t, err)
	_, err = mintToken(secret, "doorbell", -time.Hour)
	assert.Error(t, err)
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	color.NoColor = true
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "server.yaml")
	ledgerPath := filepath.Join(dir, "data", "ledger.db")

	answers := strings.Join([]string{
		cfgPath,      // config path
		":4000",      // http addr
		"telegram",   // transport
		"123:token",  // bot token
		"MarkdownV2", // parse mode
		"10m",        // retention
		ledgerPath,   // ledger
		"yes",        // auth
		"no",         // tailscale
		"debug",      // level
		"json",       // format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out, "unused"))
	assert.Contains(t, out.String(), "Config written to "+cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Server.HTTPAddr)
	assert.Equal(t, "123:token", cfg.Telegram.BotToken)
	assert.Equal(t, "MarkdownV2", cfg.Transport.ParseMode)
	assert.Equal(t, 10*time.Minute, cfg.Cache.Retention)
	assert.Equal(t, ledgerPath, cfg.LedgerDSN())
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), auth.MinSecretLength)
	assert.False(t, cfg.Tailscale.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestRunInit_DefaultsOnEOF(t *testing.T) {
	color.NoColor = true
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfgPath := filepath.Join(t.TempDir(), "server.yaml")

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(""), &out, cfgPath))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.HTTPAddr)
	assert.Equal(t, "from-env", cfg.Telegram.BotToken)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Retention)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "dedupe").Info("sweep complete", "removed", 3)
	logger.WithGroup("http").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF sweep complete component=dedupe removed=3")
	assert.Contains(t, out, "WRN slow http.ms=1200")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("message sent", "conversation", "c1")

	assert.Contains(t, buf.String(), `"msg":"message sent"`)
	assert.Contains(t, buf.String(), `"conversation":"c1"`)
}
