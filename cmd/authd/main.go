// Package main is the entry point for the authd service.
// It wires storage, the registration event pipeline, the scheduler and
// the HTTP server, and exposes them through the serve and migrate commands.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"auth-go/internal/banner"
	"auth-go/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "authd",
		Short:         "authd registration and event pipeline service",
		Version:       banner.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config/config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file with AUTHD_* overrides")

	serveCmd := newServeCmd(opts)
	rootCmd.AddCommand(serveCmd, newMigrateCmd(opts))

	// Running the bare binary starts the service.
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}

// loadConfig reads the env file and the configuration, and builds the logger.
func loadConfig(opts *options) (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", opts.configPath, err)
		return nil, nil, err
	}

	logger := initLogger(&cfg.Logger)
	logger.Info("configuration loaded",
		"path", opts.configPath,
		"storage_mode", cfg.Storage.Mode,
		"lock_store", cfg.Scheduler.LockStore,
	)
	return cfg, logger, nil
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
