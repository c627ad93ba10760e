package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: cache intermediary, local API, prober and replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g)
		},
	}
}

func runServe(ctx context.Context, g *globals) error {
	cfg, logger := g.cfg, g.logger
	logger.Info("starting rioforms", slog.String("version", g.version), slog.String("build_time", g.buildTime))

	a, err := newApp(ctx, cfg, g.version, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// a failed precache leaves navigation without an offline fallback but
	// does not stop the gateway
	if err := a.proxy.Install(ctx); err != nil {
		logger.Warn("shell precache incomplete", slog.Any("err", err))
	}
	if err := a.proxy.Activate(ctx); err != nil {
		logger.Warn("cache activation failed", slog.Any("err", err))
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      a.handler(g.version, g.buildTime),
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.prober.Run(ctx) })
	eg.Go(func() error { return a.monitor.Run(ctx) })
	eg.Go(func() error {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = eg.Wait()
	logger.Info("server exited")
	return err
}
