// Package config loads broker, worker and producer settings from flags, WALQ_*
// environment variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dontdude/walq/internal/broker"
	"github.com/dontdude/walq/internal/platform/journal"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WALQ_JOURNAL_PATH.
const EnvPrefix = "WALQ"

// Server holds the broker's settings.
type Server struct {
	Listen      string
	AdminListen string

	JournalDriver journal.Driver
	JournalPath   string
	Fsync         bool
	RedisAddr     string
	RedisStream   string
	PostgresDSN   string

	MaxLineBytes  int
	StatsSchedule string

	AdminRate  float64
	AdminBurst float64

	LogLevel  string
	LogFormat string
}

// Worker holds the worker client's settings.
type Worker struct {
	Addr         string
	Concurrency  int
	PollInterval time.Duration

	Runner      string
	WorkTime    time.Duration
	DockerImage string
	DockerMem   int64

	LogLevel  string
	LogFormat string
}

// NewViper returns a viper instance that resolves WALQ_* environment variables,
// with dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs to the key of the same name.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr := v.BindPFlag(f.Name, f); bindErr != nil && err == nil {
			err = fmt.Errorf("bind flag %q: %w", f.Name, bindErr)
		}
	})
	return err
}

// ReadConfigFile loads the file named by the "config" key, if any.
func ReadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (yaml, json or toml)")
	fs.String("log-level", "info", "Log level: debug|info|warn|error")
	fs.String("log-format", "text", "Log format: text|json")
}

// AddServerFlags registers the broker flags on fs.
func AddServerFlags(fs *pflag.FlagSet) {
	addCommonFlags(fs)
	fs.String("listen", broker.DefaultAddr, "TCP listen address for the job protocol")
	fs.String("admin-listen", "", "HTTP listen address for metrics, stats and the event feed (disabled when empty)")
	fs.String("journal-driver", "file", "Journal backend: file|pebble|redis|postgres|memory")
	fs.String("journal-path", "write-ahead.log", "Journal file (file driver) or data directory (pebble driver)")
	fs.String("fsync", "always", "Journal fsync mode for the file driver: always|never")
	fs.String("redis-addr", "localhost:6379", "Redis address (redis driver)")
	fs.String("redis-stream", "walq:journal", "Redis stream key (redis driver)")
	fs.String("postgres-dsn", "", "Postgres connection string (postgres driver)")
	fs.String("max-line", humanize.IBytes(broker.DefaultMaxLineBytes), "Maximum command line size, e.g. 64KiB")
	fs.String("stats-schedule", "@every 1m", "Cron schedule for queue stats log lines (empty disables)")
	fs.Float64("admin-rate", 5, "Admin API requests per second per client IP")
	fs.Float64("admin-burst", 20, "Admin API burst size per client IP")
}

// LoadServer resolves the broker settings from v.
func LoadServer(v *viper.Viper) (Server, error) {
	driver, err := journal.ParseDriver(v.GetString("journal-driver"))
	if err != nil {
		return Server{}, err
	}

	var fsync bool
	switch mode := strings.ToLower(v.GetString("fsync")); mode {
	case "always", "":
		fsync = true
	case "never":
		fsync = false
	default:
		return Server{}, fmt.Errorf("invalid fsync mode %q; use always|never", mode)
	}

	maxLine, err := humanize.ParseBytes(v.GetString("max-line"))
	if err != nil {
		return Server{}, fmt.Errorf("invalid max-line: %w", err)
	}
	if maxLine < 16 || maxLine > 1<<30 {
		return Server{}, fmt.Errorf("max-line %s out of range", humanize.IBytes(maxLine))
	}

	cfg := Server{
		Listen:        v.GetString("listen"),
		AdminListen:   v.GetString("admin-listen"),
		JournalDriver: driver,
		JournalPath:   v.GetString("journal-path"),
		Fsync:         fsync,
		RedisAddr:     v.GetString("redis-addr"),
		RedisStream:   v.GetString("redis-stream"),
		PostgresDSN:   v.GetString("postgres-dsn"),
		MaxLineBytes:  int(maxLine),
		StatsSchedule: strings.TrimSpace(v.GetString("stats-schedule")),
		AdminRate:     v.GetFloat64("admin-rate"),
		AdminBurst:    v.GetFloat64("admin-burst"),
		LogLevel:      v.GetString("log-level"),
		LogFormat:     v.GetString("log-format"),
	}

	if cfg.Listen == "" {
		return Server{}, errors.New("listen address is required")
	}
	switch driver {
	case journal.File, journal.Pebble:
		if cfg.JournalPath == "" {
			return Server{}, fmt.Errorf("journal-path is required for the %s driver", driver)
		}
	case journal.Postgres:
		if cfg.PostgresDSN == "" {
			return Server{}, errors.New("postgres-dsn is required for the postgres driver")
		}
	}
	return cfg, nil
}

// JournalOptions translates the settings into journal.Open options.
func (s Server) JournalOptions(logger *slog.Logger) journal.Options {
	return journal.Options{
		Driver:      s.JournalDriver,
		Path:        s.JournalPath,
		Fsync:       s.Fsync,
		RedisAddr:   s.RedisAddr,
		RedisStream: s.RedisStream,
		PostgresDSN: s.PostgresDSN,
		Logger:      logger,
	}
}

// AddWorkerFlags registers the worker flags on fs.
func AddWorkerFlags(fs *pflag.FlagSet) {
	addCommonFlags(fs)
	fs.String("addr", "127.0.0.1:5003", "Broker address")
	fs.Int("concurrency", 1, "Number of concurrent workers, each with its own connection")
	fs.Duration("poll-interval", 300*time.Millisecond, "Wait after an EMPTY reply")
	fs.String("runner", "sleep", "Job runner: sleep|docker")
	fs.Duration("work-time", time.Second, "Simulated work duration (sleep runner)")
	fs.String("docker-image", "alpine:3", "Image that runs payloads (docker runner)")
	fs.String("docker-memory", "512MiB", "Container memory limit (docker runner)")
}

// LoadWorker resolves the worker settings from v.
func LoadWorker(v *viper.Viper) (Worker, error) {
	mem, err := humanize.ParseBytes(v.GetString("docker-memory"))
	if err != nil {
		return Worker{}, fmt.Errorf("invalid docker-memory: %w", err)
	}
	cfg := Worker{
		Addr:         v.GetString("addr"),
		Concurrency:  v.GetInt("concurrency"),
		PollInterval: v.GetDuration("poll-interval"),
		Runner:       strings.ToLower(v.GetString("runner")),
		WorkTime:     v.GetDuration("work-time"),
		DockerImage:  v.GetString("docker-image"),
		DockerMem:    int64(mem),
		LogLevel:     v.GetString("log-level"),
		LogFormat:    v.GetString("log-format"),
	}
	if cfg.Concurrency < 1 {
		return Worker{}, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	switch cfg.Runner {
	case "sleep", "docker":
	default:
		return Worker{}, fmt.Errorf("unknown runner %q; use sleep|docker", cfg.Runner)
	}
	return cfg, nil
}
