package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/botscript/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string

	// listener overrides Listen (for testing).
	listener net.Listener
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon with its HTTP control surface",
		Long: `Start the event loop and serve the bridge over HTTP.

Bots are constructed, loaded and commanded through the HTTP API.
Notifications are buffered per bot, persisted when a database is
configured and published to Redis when a Redis URL is configured.

Example:
  botscript serve --listen :8080 --db ./botscript.db
  BOTSCRIPT_REDIS_URL=redis://localhost:6379 botscript serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides settings)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides settings)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	s, err := loadSettings(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		s.Listen = opts.Listen
	}
	if opts.Database != "" {
		s.Database = opts.Database
	}
	logger := opts.logger()

	ctx, cancel := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := startRuntime(ctx, s, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("shutdown error", "error", closeErr)
		}
	}()

	api := httpapi.New(rt.bridge,
		httpapi.WithPackagesDir(s.PackagesDir),
		httpapi.WithLogger(logger),
	)
	srv := &http.Server{
		Addr:         s.Listen,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.ShutdownTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln := opts.listener
	if ln == nil {
		ln, err = net.Listen("tcp", s.Listen)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info("server starting", "addr", ln.Addr().String(), "packages", s.PackagesDir)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// cmdContext returns the command's context, or Background when unset.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
