package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/walq/internal/broker"
	"github.com/dontdude/walq/internal/config"
	"github.com/dontdude/walq/internal/platform/journal"
	"github.com/dontdude/walq/internal/platform/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:          "walq-server",
		Short:        "Durable job queue broker",
		Long:         "walq-server accepts SUBMIT/REQUEST/ACK/FAIL/QUIT line commands over TCP and journals every job before it becomes visible.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), v)
		},
	}
	config.AddServerFlags(cmd.Flags())
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

func runServer(parent context.Context, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := config.ReadConfigFile(v); err != nil {
		return err
	}
	cfg, err := config.LoadServer(v)
	if err != nil {
		return err
	}

	// 1. Initialize logger
	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Open the journal; the broker cannot run without it.
	j, err := journal.Open(ctx, cfg.JournalOptions(logger))
	if err != nil {
		logger.Error("Failed to open journal", "driver", cfg.JournalDriver.String(), "error", err)
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Error("Failed to close journal", "error", err)
		}
	}()

	// 3. Rebuild queue state
	rec, err := journal.Recover(ctx, j)
	if err != nil {
		return err
	}
	mgr := broker.NewManager(j, logger)
	mgr.Restore(rec.Jobs, rec.MaxID)
	logger.Info("Recovered jobs from journal",
		"driver", cfg.JournalDriver.String(),
		"jobs", len(rec.Jobs),
		"records", rec.Records,
		"skipped", rec.Skipped,
		"nextID", rec.MaxID+1)

	// 4. Observability
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := broker.NewMetrics(reg, mgr)

	if cfg.AdminListen != "" {
		stop, err := startAdmin(ctx, cfg, mgr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.StatsSchedule != "" {
		var size func() int64
		if fj, ok := j.(*journal.FileJournal); ok {
			size = fj.Size
		}
		reporter, err := broker.StartReporter(cfg.StatsSchedule, mgr, size, logger)
		if err != nil {
			return err
		}
		defer reporter.Stop()
	}

	// 5. Serve until interrupted
	srv := broker.NewServer(mgr, broker.ServerOptions{
		Logger:       logger,
		Metrics:      metrics,
		MaxLineBytes: cfg.MaxLineBytes,
	})
	return srv.ListenAndServe(ctx, cfg.Listen)
}

// startAdmin serves metrics, stats and the event feed. The returned func shuts it down.
func startAdmin(ctx context.Context, cfg config.Server, mgr *broker.Manager, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", cfg.AdminListen)
	if err != nil {
		return nil, fmt.Errorf("admin listen %s: %w", cfg.AdminListen, err)
	}

	hub := web.NewHub(logger)
	mgr.Observe(hub)
	limiter := web.NewRateLimiter(ctx, cfg.AdminRate, cfg.AdminBurst)

	httpSrv := &http.Server{
		Handler: web.NewAdminHandler(
			func() any { return mgr.Stats() },
			hub,
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			limiter,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP listening", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}, nil
}
