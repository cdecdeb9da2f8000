package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/doorstep/internal/config"
	"github.com/dukerupert/doorstep/internal/database"
	"github.com/dukerupert/doorstep/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "doorstep",
		Short:         "Door-to-door canvassing tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./doorstep.yaml)")
	root.PersistentFlags().String("db", "doorstep.db", "SQLite database path")
	root.PersistentFlags().String("log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(newServeCmd(&configFile))
	root.AddCommand(newSweepCmd(&configFile))
	root.AddCommand(newUsersCmd(&configFile))
	root.AddCommand(newAchievementsCmd(&configFile))
	root.AddCommand(newExportCmd(&configFile))
	root.AddCommand(newImportCmd(&configFile))
	return root
}

// app bundles what every subcommand needs.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	logger *slog.Logger
}

func loadApp(cmd *cobra.Command, configFile string) (*app, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &app{cfg: cfg, db: db, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
