package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/mangashelf/pkg/mangashelf/api"
	"github.com/tendant/mangashelf/pkg/mangashelf/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var flush bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []config.Option
			if cmd.Flags().Changed("flush-on-startup") {
				extra = append(extra, config.WithFlushOnStartup(flush))
			}
			return serve(cmd.Context(), opts, extra...)
		},
	}
	cmd.Flags().BoolVar(&flush, "flush-on-startup", false, "remove every upload session before serving")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, extra ...config.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, logger, err := opts.build(ctx, extra...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), app.Config.CleanupTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("Failed to close application", "error", err)
		}
	}()

	if app.Config.FlushOnStartup {
		report, err := app.Uploads.Flush(ctx)
		if err != nil {
			return fmt.Errorf("flush upload sessions: %w", err)
		}
		logger.Info("Flushed upload sessions", "sessions", report.Sessions, "blobs", report.Blobs, "workspaces", report.Workspaces)
	}

	secret := app.Config.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET is not set; using an ephemeral secret, tokens will not survive a restart")
	}
	server := api.New(app.Catalog, app.Uploads,
		api.WithTokenAuth(api.NewTokenAuth(app.Config.JWTAlgorithm, secret)),
		api.WithLogger(logger),
		api.WithMaxUploadBytes(app.Config.MaxUploadSize),
	)

	httpServer := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", app.Config.Port, "environment", app.Config.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Server exited")
	return nil
}
