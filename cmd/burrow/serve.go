package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marodse/burrow"
)

func createServeCommand(global *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		Long: `Run the burrow daemon: re-attach to processes left over from a
previous run, expose the HTTP API, and keep the tunnel healthy.

Managed processes are detached, so stopping the daemon leaves them
running; the next 'burrow serve' picks them up again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if global.ConfigPath == "" {
				return fmt.Errorf("--config is required")
			}
			return runServe(global.ConfigPath, flags.AutoStart)
		},
	}
	cmd.Flags().BoolVar(&flags.AutoStart, "start", false, "start tunnel and services after boot")
	return cmd
}

func runServe(configPath string, autoStart bool) error {
	cfg, err := burrow.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := burrow.SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Color)
	slog.SetDefault(log)

	app, err := burrow.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Resume(ctx)

	if autoStart {
		if _, err := app.Tunnel().Start(ctx); err != nil {
			log.Error("tunnel did not start", "err", err)
		}
		if err := app.Services().StartAll(); err != nil {
			log.Error("some services did not start", "err", err)
		}
	}

	srv := app.Serve(cfg.Server.Listen, cfg.Server.BasePath)
	log.Info("burrow daemon listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	<-ctx.Done()
	log.Info("shutting down, managed processes stay up")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	return nil
}
