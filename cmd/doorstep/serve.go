package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/server"
	"github.com/dukerupert/doorstep/internal/sweeper"
)

const cleanupInterval = time.Hour

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime hub and inactivity sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmdContext(cmd), a)
		},
	}
	cmd.Flags().String("port", "8080", "HTTP listen port")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := gaming.LoadCatalog(a.cfg.AchievementsFile)
	if err != nil {
		return err
	}

	clk := clock.System{}
	srv, err := server.New(ctx, a.db, server.Config{
		Clock:          clk,
		Catalog:        catalog,
		TokenTTL:       a.cfg.TokenTTL,
		DoorsPerMinute: a.cfg.RateLimit.DoorsPerMinute,
		OriginPatterns: a.cfg.AllowedOrigins,
	}, a.logger)
	if err != nil {
		return err
	}

	sw := sweeper.New(srv.Service(), a.cfg.SweepInterval, a.logger)
	sw.Start(ctx)
	defer sw.Stop()

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.TokenStore().DeleteExpired(ctx, clk.Now()); err != nil {
					a.logger.Error("cleanup expired tokens", "error", err)
				} else if n > 0 {
					a.logger.Info("cleaned up expired tokens", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("doorstep starting", "addr", httpServer.Addr, "achievements", len(catalog))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
