package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dontdude/walq/internal/platform/journal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	fs := pflag.NewFlagSet("walq-server", pflag.ContinueOnError)
	AddServerFlags(fs)
	require.NoError(t, fs.Parse(args))
	v := NewViper()
	require.NoError(t, BindFlags(v, fs))
	return v
}

func workerViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	fs := pflag.NewFlagSet("walq-worker", pflag.ContinueOnError)
	AddWorkerFlags(fs)
	require.NoError(t, fs.Parse(args))
	v := NewViper()
	require.NoError(t, BindFlags(v, fs))
	return v
}

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer(serverViper(t))
	require.NoError(t, err)

	assert.Equal(t, ":5003", cfg.Listen)
	assert.Empty(t, cfg.AdminListen)
	assert.Equal(t, journal.File, cfg.JournalDriver)
	assert.Equal(t, "write-ahead.log", cfg.JournalPath)
	assert.True(t, cfg.Fsync)
	assert.Equal(t, 64*1024, cfg.MaxLineBytes)
	assert.Equal(t, "@every 1m", cfg.StatsSchedule)
}

func TestLoadServer_Flags(t *testing.T) {
	cfg, err := LoadServer(serverViper(t,
		"--listen", "127.0.0.1:7000",
		"--journal-driver", "pebble",
		"--journal-path", "/var/lib/walq",
		"--fsync", "never",
		"--max-line", "1MiB",
	))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, journal.Pebble, cfg.JournalDriver)
	assert.False(t, cfg.Fsync)
	assert.Equal(t, 1<<20, cfg.MaxLineBytes)

	opts := cfg.JournalOptions(nil)
	assert.Equal(t, journal.Pebble, opts.Driver)
	assert.Equal(t, "/var/lib/walq", opts.Path)
}

func TestLoadServer_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("WALQ_JOURNAL_DRIVER", "redis")
	t.Setenv("WALQ_REDIS_STREAM", "jobs")

	cfg, err := LoadServer(serverViper(t))
	require.NoError(t, err)
	assert.Equal(t, journal.Redis, cfg.JournalDriver)
	assert.Equal(t, "jobs", cfg.RedisStream)
}

func TestLoadServer_FlagBeatsEnv(t *testing.T) {
	t.Setenv("WALQ_LISTEN", ":6000")

	cfg, err := LoadServer(serverViper(t, "--listen", ":7000"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
}

func TestLoadServer_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal-driver: memory\nadmin-listen: \":9090\"\n"), 0o644))

	v := serverViper(t, "--config", path)
	require.NoError(t, ReadConfigFile(v))

	cfg, err := LoadServer(v)
	require.NoError(t, err)
	assert.Equal(t, journal.Memory, cfg.JournalDriver)
	assert.Equal(t, ":9090", cfg.AdminListen)
}

func TestLoadServer_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown driver", []string{"--journal-driver", "mongo"}},
		{"bad fsync", []string{"--fsync", "sometimes"}},
		{"bad max-line", []string{"--max-line", "lots"}},
		{"max-line too small", []string{"--max-line", "8B"}},
		{"empty listen", []string{"--listen", ""}},
		{"file without path", []string{"--journal-path", ""}},
		{"postgres without dsn", []string{"--journal-driver", "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServer(serverViper(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestReadConfigFile_Missing(t *testing.T) {
	v := serverViper(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, ReadConfigFile(v))
}

func TestLoadWorker(t *testing.T) {
	cfg, err := LoadWorker(workerViper(t, "--concurrency", "4", "--runner", "Docker", "--docker-memory", "256MiB"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5003", cfg.Addr)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 300*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "docker", cfg.Runner)
	assert.Equal(t, int64(256<<20), cfg.DockerMem)

	_, err = LoadWorker(workerViper(t, "--concurrency", "0"))
	assert.Error(t, err)
	_, err = LoadWorker(workerViper(t, "--runner", "k8s"))
	assert.Error(t, err)
	_, err = LoadWorker(workerViper(t, "--docker-memory", "plenty"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "jobId", 7)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"jobId":7`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
