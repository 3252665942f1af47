package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/fleet-availability/internal/config"
	"github.com/example/fleet-availability/internal/logging"
	"github.com/example/fleet-availability/internal/storage"
)

var (
	cfgPath      string
	fixturesPath string
)

var rootCmd = &cobra.Command{
	Use:          "server",
	Short:        "Fleet availability HTTP server",
	SilenceUsage: true,
	RunE:         serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  serve,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded Postgres migrations and exit",
	RunE:  migrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
	serveCmd.Flags().StringVar(&fixturesPath, "fixtures", "", "JSON file of zones, vehicles, agendas and reservations to load at start")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.Log.Level)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()
	if fixturesPath != "" {
		if err := a.loadFixtures(ctx, fixturesPath); err != nil {
			return fmt.Errorf("fixtures: %w", err)
		}
	}
	if err := a.run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func migrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn (or PG_DSN) is required for migrate")
	}
	logger := logging.NewLogger(cfg.Log.Level)
	pg, err := storage.NewPostgresStore(cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	applied, err := pg.Migrate(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range applied {
		logger.Info("migration applied", "file", name)
	}
	return nil
}
