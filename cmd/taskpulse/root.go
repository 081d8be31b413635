package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"taskpulse/internal/app"
	"taskpulse/internal/config"
)

var (
	cfg     config.Config
	addr    string
	dbPath  string
	verbose bool
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "taskpulse",
		Short: "Personal task tracker with reminders and offline sync",
		Long: `taskpulse keeps a list of tasks with an audit history, reminds you
before each task is due and syncs the list to a remote server when one is
reachable.

Without a subcommand it runs the HTTP server.`,
		PersistentPreRunE: setup,
		RunE:              runServe,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "HTTP bind address (overrides HTTP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite DB path (overrides SQLITE_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(geocodeCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if dbPath != "" {
		cfg.Storage.SQLitePath = dbPath
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.App.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

// withApp builds and starts the application for a one-shot command.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(a)
}
