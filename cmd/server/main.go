package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/dmchat-server/internal/app"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/log"
	"github.com/vovakirdan/dmchat-server/internal/seal"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	root := &cobra.Command{
		Use:           "dmchat",
		Short:         "Direct messaging server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&overrides.Database.Driver, "db-driver", "", "database driver (sqlite, postgres)")
	root.PersistentFlags().StringVar(&overrides.Database.Path, "db-path", "", "sqlite database path")
	root.PersistentFlags().StringVar(&overrides.Database.DSN, "db-dsn", "", "postgres DSN")

	loadConfig := func() (config.Config, error) {
		bootstrap := log.New("info", "console")
		cfg, path, err := config.Load(bootstrap, configPath)
		if err != nil {
			return cfg, err
		}
		cfg.UpdateFrom(overrides)
		bootstrap.Debug().Str("path", path).Msg("config loaded")
		return cfg, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := log.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize app")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting dmchat server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	serve.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	serve.Flags().DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	serve.Flags().DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := log.New(cfg.LogLevel, cfg.LogFormat)

			v, err := app.Migrate(cmd.Context(), cfg.Database)
			if err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			logger.Info().Int64("version", v).Str("driver", cfg.Database.Driver).Msg("database migrated")
			return nil
		},
	}

	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh message_key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := seal.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(serve, migrate, keygen, versionCmd)
	return root
}
