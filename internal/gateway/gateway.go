// ABOUTME: Gateway orchestrator that wires the dedupe cache, transport and ledger
// ABOUTME: Manages the HTTP front door, optional gRPC health server and their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/MuhtaT/famlogger-server/internal/auth"
	"github.com/MuhtaT/famlogger-server/internal/config"
	"github.com/MuhtaT/famlogger-server/internal/dedupe"
	"github.com/MuhtaT/famlogger-server/internal/dispatch"
	"github.com/MuhtaT/famlogger-server/internal/store"
	"github.com/MuhtaT/famlogger-server/internal/transport"
	"github.com/MuhtaT/famlogger-server/internal/transport/matrix"
	"github.com/MuhtaT/famlogger-server/internal/transport/telegram"
)

// Gateway owns every long-lived component of the server.
type Gateway struct {
	config     *config.Config
	cache      *dedupe.Cache
	sender     transport.Sender
	ledger     store.Ledger
	dispatcher *dispatch.Service
	verifier   auth.TokenVerifier

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server

	logger    *slog.Logger
	startedAt time.Time
}

// Option customises New.
type Option func(*Gateway)

// WithSender replaces the configured transport, mainly for tests.
func WithSender(s transport.Sender) Option {
	return func(g *Gateway) { g.sender = s }
}

// WithLedger replaces the configured ledger.
func WithLedger(l store.Ledger) Option {
	return func(g *Gateway) { g.ledger = l }
}

// newSender builds the transport selected by transport.kind.
func newSender(cfg *config.Config, logger *slog.Logger) (transport.Sender, error) {
	switch cfg.Transport.Kind {
	case config.TransportTelegram:
		return telegram.New(telegram.Config{
			Token:       cfg.Telegram.BotToken,
			APIEndpoint: cfg.Telegram.APIEndpoint,
		}, logger)
	case config.TransportMatrix:
		return matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// initLedger opens the dispatch ledger, or returns nil when none is configured.
func initLedger(cfg *config.Config, logger *slog.Logger) (store.Ledger, error) {
	dsn := cfg.LedgerDSN()
	if dsn == "" {
		return nil, nil
	}
	return store.Open(cfg.Database.Driver, dsn, logger)
}

// defaultParseMode maps the configured parse mode onto the transport constant.
func defaultParseMode(mode string) string {
	if mode == "plain" {
		return transport.ParseModePlain
	}
	return mode
}

// New creates the gateway and all of its components. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		config:    cfg,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(gw)
	}

	gw.cache = dedupe.New(
		dedupe.WithRetention(cfg.Cache.Retention),
		dedupe.WithSweepInterval(cfg.Cache.SweepInterval),
		dedupe.WithLogger(logger.With("component", "dedupe")),
	)

	if gw.sender == nil {
		sender, err := newSender(cfg, logger.With("component", "transport"))
		if err != nil {
			return nil, fmt.Errorf("creating transport: %w", err)
		}
		gw.sender = sender
	}

	if gw.ledger == nil {
		ledger, err := initLedger(cfg, logger)
		if err != nil {
			_ = gw.sender.Close()
			return nil, fmt.Errorf("opening dispatch ledger: %w", err)
		}
		gw.ledger = ledger
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.closeComponents()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
	}

	gw.dispatcher = dispatch.New(dispatch.Config{
		Sender:           gw.sender,
		Cache:            gw.cache,
		Ledger:           gw.ledger,
		DefaultParseMode: defaultParseMode(cfg.Transport.ParseMode),
		Logger:           logger.With("component", "dispatch"),
	})

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer(logger)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway initialized",
		"transport", gw.sender.Name(),
		"ledger", gw.ledger != nil,
		"auth", gw.verifier != nil,
		"retention", gw.cache.Retention(),
	)
	return gw, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates the HTTP listener and, if configured, the gRPC one.
func (g *Gateway) setupTCPListeners() (httpLn, grpcLn net.Listener, err error) {
	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the HTTP and gRPC servers in goroutines, returning an error channel.
func (g *Gateway) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the cache sweep and the servers, then blocks until ctx is
// canceled or a server fails. It always shuts everything down before returning.
func (g *Gateway) Run(ctx context.Context) error {
	g.cache.Start()

	httpLn, grpcLn, err := g.setupListeners(ctx)
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	if g.health != nil {
		markServing(g.health)
	}

	errCh := g.startServers(httpLn, grpcLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context, since the run
// context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "famlogger", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens on :80 and, when
// gRPC is enabled, :50051.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.health != nil {
		g.health.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases the transport, cache and ledger in that order.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.sender != nil {
		errs = appendCloseError(errs, "transport close", g.sender.Close())
	}
	if g.cache != nil {
		g.cache.Stop()
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "ledger close", g.ledger.Close())
	}
	return errs
}

// Shutdown stops the servers, then the transport, the cache sweep and the ledger.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	g.logger.Info("gateway stopped")
	return nil
}
