package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livechat/internal/observability/metrics"
	"github.com/roach88/livechat/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string

	// ready, when set, receives the bound address once the listener is up.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries, mutations and live subscriptions",
		Long: `Start the HTTP and WebSocket server.

Opens (or creates) the SQLite database, registers the chat operations and
serves them on /api/query/{name}, /api/mutation/{name} and /api/ws.
SIGINT or SIGTERM drains in-flight requests and closes the store.

Example:
  livechat serve --config livechat.yaml
  livechat serve --db /tmp/chat.db --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(parentCtx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	metrics.MustRegister(serviceName)

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Auth.Secret == "" {
		logger.Warn("auth.secret is empty, all requests are anonymous")
	}
	srv := transport.New(a.engine, transport.Options{
		Auth:           transport.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MutationRate:   cfg.Server.MutationRate.Requests,
		MutationWindow: cfg.Server.MutationRate.Window.Std(),
	})

	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- a.engine.Run(ctx) }()

	serveDone := make(chan error, 1)
	go func() { serveDone <- httpServer.Serve(ln) }()

	logger.Info("server listening",
		"addr", ln.Addr().String(),
		"db", cfg.Store.Path,
		"workers", cfg.Engine.Workers,
	)
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	var serveErr error
	engineStopped := false
	select {
	case <-ctx.Done():
	case serveErr = <-serveDone:
	case err := <-engineDone:
		engineStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			serveErr = fmt.Errorf("engine stopped: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete", "error", err)
	}
	cancel()
	if !engineStopped {
		<-engineDone
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server failed", serveErr)
	}
	logger.Info("server stopped")
	return nil
}
