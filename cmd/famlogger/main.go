// ABOUTME: Entry point for the famlogger-server notification relay
// ABOUTME: Cobra root with serve, init, health and token subcommands

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/MuhtaT/famlogger-server/internal/auth"
	"github.com/MuhtaT/famlogger-server/internal/config"
	"github.com/MuhtaT/famlogger-server/internal/gateway"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  __                 _
 / _| __ _ _ __ ___ | | ___   __ _  __ _  ___ _ __
| |_ / _' | '_ ' _ \| |/ _ \ / _' |/ _' |/ _ \ '__|
|  _| (_| | | | | | | | (_) | (_| | (_| |  __/ |
|_|  \__,_|_| |_| |_|_|\___/ \__, |\__, |\___|_|
                             |___/ |___/
`

// getConfigPath returns the path to the server config file.
// Priority: FAMLOGGER_CONFIG env var > XDG_CONFIG_HOME/famlogger/server.yaml > ~/.config/famlogger/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FAMLOGGER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "famlogger", "server.yaml")
}

// getDataPath returns the famlogger data directory.
// Priority: XDG_DATA_HOME/famlogger > ~/.local/share/famlogger
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "famlogger")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "famlogger",
		Short:         "famlogger-server relays family notifications to Telegram or Matrix",
		Long:          "famlogger-server sends notification messages to chat providers and answers whether a message was already sent to a conversation recently.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $FAMLOGGER_CONFIG or ~/.config/famlogger/server.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	root.AddCommand(newServeCmd(resolve))
	root.AddCommand(newInitCmd(resolve))
	root.AddCommand(newHealthCmd(resolve))
	root.AddCommand(newTokenCmd(resolve))
	return root
}

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	gin.SetMode(ginMode(cfg.Logging.Level))

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Transport: %s", cfg.Transport.Kind)
	gray.Printf(" (%s)\n", cfg.Transport.ParseMode)
	green.Print("    ▶ ")
	fmt.Printf("Retention: %s\n", cfg.Cache.Retention)
	if dsn := cfg.LedgerDSN(); dsn != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Database.Driver)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API auth disabled (no auth.jwt_secret)")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting famlogger-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"transport", cfg.Transport.Kind,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// ginMode keeps gin's route dump and warnings for debug logging only.
func ginMode(level string) string {
	if level == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func newHealthCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context(), configPath())
		},
	}
}

// healthURL turns a listen address such as ":3000" into a dialable URL.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/health", addr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port))
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var body struct {
		Status    string  `json:"status"`
		Uptime    float64 `json:"uptime"`
		CacheSize int     `json:"cacheSize"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	color.New(color.FgGreen).Print("healthy")
	fmt.Printf(" status=%s uptime=%.0fs cache=%d\n", body.Status, body.Uptime, body.CacheSize)
	return nil
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := mintToken(cfg.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "caller name stored in the token's sub claim (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime; 0 issues a token that never expires")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func mintToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	if subject == "" {
		return "", fmt.Errorf("--sub is required")
	}
	if ttl < 0 {
		return "", fmt.Errorf("--ttl must not be negative")
	}
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}
