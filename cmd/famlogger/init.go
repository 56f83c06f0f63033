// ABOUTME: Interactive "famlogger init" command that writes a starter config file
// ABOUTME: Prompts for transport credentials, ledger path, auth and Tailscale settings

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// initAnswers holds everything the starter config is rendered from.
type initAnswers struct {
	HTTPAddr   string
	Transport  string
	BotToken   string
	Homeserver string
	UserID     string
	MatrixTok  string
	ParseMode  string
	Retention  string
	LedgerPath string
	JWTSecret  string
	Tailscale  bool
	TSHostname string
	TSAuthKey  string
	LogLevel   string
	LogFormat  string
}

func newInitCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), configPath())
		},
	}
}

func runInit(in io.Reader, out io.Writer, defaultConfigPath string) error {
	reader := bufio.NewReader(in)
	green := color.New(color.FgGreen)

	fmt.Fprintln(out, "famlogger-server configuration setup")
	fmt.Fprintln(out, "====================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", defaultConfigPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", ":3000")

	fmt.Fprintln(out, "\n--- Transport ---")
	a.Transport = prompt(reader, out, "Transport (telegram/matrix)", "telegram")
	switch a.Transport {
	case "telegram":
		a.BotToken = prompt(reader, out, "Telegram bot token (empty to use ${TELEGRAM_BOT_TOKEN})", "")
	case "matrix":
		a.Homeserver = prompt(reader, out, "Matrix homeserver URL", "https://matrix.org")
		a.UserID = prompt(reader, out, "Matrix user ID", "")
		a.MatrixTok = prompt(reader, out, "Matrix access token", "")
	default:
		return fmt.Errorf("unknown transport %q", a.Transport)
	}
	a.ParseMode = prompt(reader, out, "Default parse mode (HTML/MarkdownV2/plain)", "HTML")

	fmt.Fprintln(out, "\n--- Dedupe cache ---")
	a.Retention = prompt(reader, out, "Retention", "5m")

	fmt.Fprintln(out, "\n--- Dispatch ledger ---")
	a.LedgerPath = prompt(reader, out, "SQLite ledger path (\"none\" to disable)", filepath.Join(getDataPath(), "ledger.db"))
	if strings.EqualFold(a.LedgerPath, "none") {
		a.LedgerPath = ""
	}

	fmt.Fprintln(out, "\n--- API auth ---")
	if yes(prompt(reader, out, "Require bearer tokens on /api?", "yes")) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		a.JWTSecret = secret
	}

	fmt.Fprintln(out, "\n--- Tailscale ---")
	a.Tailscale = yes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, out, "Tailscale hostname", "famlogger")
		a.TSAuthKey = prompt(reader, out, "Tailscale auth key (empty to use ${TS_AUTHKEY})", "")
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if a.LedgerPath != "" {
		if err := os.MkdirAll(filepath.Dir(a.LedgerPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintln(out)
	green.Fprintf(out, "  ✓ Config written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  famlogger serve")
	if a.JWTSecret != "" {
		fmt.Fprintln(out, "\nTo mint an API token:")
		fmt.Fprintln(out, "  famlogger token --sub my-script")
	}
	return nil
}

// renderConfig writes the YAML config for a.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# famlogger-server configuration\n")
	b.WriteString("# Generated by famlogger init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %s\n", strconv.Quote(a.HTTPAddr))
	b.WriteString("\n")

	b.WriteString("transport:\n")
	fmt.Fprintf(&b, "  kind: %s\n", strconv.Quote(a.Transport))
	fmt.Fprintf(&b, "  parse_mode: %s\n", strconv.Quote(a.ParseMode))
	b.WriteString("\n")

	switch a.Transport {
	case "telegram":
		token := a.BotToken
		if token == "" {
			token = "${TELEGRAM_BOT_TOKEN}"
		}
		b.WriteString("telegram:\n")
		fmt.Fprintf(&b, "  bot_token: %s\n", strconv.Quote(token))
	case "matrix":
		b.WriteString("matrix:\n")
		fmt.Fprintf(&b, "  homeserver: %s\n", strconv.Quote(a.Homeserver))
		fmt.Fprintf(&b, "  user_id: %s\n", strconv.Quote(a.UserID))
		fmt.Fprintf(&b, "  access_token: %s\n", strconv.Quote(a.MatrixTok))
	}
	b.WriteString("\n")

	b.WriteString("cache:\n")
	fmt.Fprintf(&b, "  retention: %s\n", strconv.Quote(a.Retention))
	b.WriteString("  sweep_interval: \"1m\"\n\n")

	if a.LedgerPath != "" {
		b.WriteString("database:\n")
		b.WriteString("  driver: \"sqlite\"\n")
		fmt.Fprintf(&b, "  path: %s\n\n", strconv.Quote(a.LedgerPath))
	}

	if a.JWTSecret != "" {
		b.WriteString("auth:\n")
		fmt.Fprintf(&b, "  jwt_secret: %s\n\n", strconv.Quote(a.JWTSecret))
	}

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&b, "  hostname: %s\n", strconv.Quote(a.TSHostname))
		if a.TSAuthKey != "" {
			fmt.Fprintf(&b, "  auth_key: %s\n", strconv.Quote(a.TSAuthKey))
		}
	}
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %s\n", strconv.Quote(a.LogLevel))
	fmt.Fprintf(&b, "  format: %s\n", strconv.Quote(a.LogFormat))

	return b.String()
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
