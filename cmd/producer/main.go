package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dontdude/walq/internal/client"
	"github.com/dontdude/walq/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:          "walq-producer <job>",
		Short:        "Submit one job to the broker",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadConfigFile(v); err != nil {
				return err
			}
			logger, err := config.NewLogger(os.Stderr, v.GetString("log-level"), v.GetString("log-format"))
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			addr := v.GetString("addr")
			c, err := client.Dial(ctx, addr)
			if err != nil {
				slog.Error("Failed to connect", "addr", addr, "error", err)
				return err
			}
			defer c.Close()

			job := strings.Join(args, " ")
			if err := c.Submit(job); err != nil {
				slog.Error("Failed to submit job", "error", err)
				return err
			}
			slog.Info("Job submitted", "addr", addr, "payload", job)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.String("config", "", "Config file (yaml, json or toml)")
	fs.String("addr", "127.0.0.1:5003", "Broker address")
	fs.String("log-level", "info", "Log level: debug|info|warn|error")
	fs.String("log-format", "text", "Log format: text|json")
	if err := config.BindFlags(v, fs); err != nil {
		panic(err)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
