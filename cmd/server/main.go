package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ychat20/ychat-server/internal/app"
	"github.com/ychat20/ychat-server/internal/config"
	"github.com/ychat20/ychat-server/internal/log"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "ychat-server",
		Short:         "Real-time chat server with direct and room messaging",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New("info")

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting ychat server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.DurationVar(&overrides.AuthTimeout, "auth-timeout", 0, "time a WebSocket client has to authenticate")

	return cmd
}
