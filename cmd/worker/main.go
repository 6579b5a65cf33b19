package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dontdude/walq/internal/config"
	"github.com/dontdude/walq/internal/domain"
	"github.com/dontdude/walq/internal/platform/docker"
	"github.com/dontdude/walq/internal/worker"
	"github.com/spf13/cobra"
)

func main() {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:          "walq-worker",
		Short:        "Lease jobs from the broker, run them, and acknowledge them",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadConfigFile(v); err != nil {
				return err
			}
			cfg, err := config.LoadWorker(v)
			if err != nil {
				return err
			}

			// 1. Initialize Logger
			logger, err := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// 2. Pick the runner
			var runner domain.Runner = worker.SleepRunner{Duration: cfg.WorkTime}
			if cfg.Runner == "docker" {
				dc, err := docker.NewClient(ctx, cfg.DockerImage, cfg.DockerMem)
				if err != nil {
					slog.Error("Docker runner unavailable", "error", err)
					return err
				}
				defer dc.Close()
				if err := dc.Pull(ctx); err != nil {
					return err
				}
				runner = dc
			}

			// 3. Work until interrupted
			pool := worker.NewPool(cfg.Concurrency, cfg.Addr, runner, cfg.PollInterval, logger)
			pool.Run(ctx)
			return nil
		},
	}
	config.AddWorkerFlags(cmd.Flags())
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
