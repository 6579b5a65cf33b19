package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dontdude/walq/internal/domain"
)

// Driver selects a journal backend.
type Driver int

const (
	File Driver = iota + 1
	Pebble
	Redis
	Postgres
	Memory
)

// String converts the Driver enum to its configuration name.
func (d Driver) String() string {
	switch d {
	case File:
		return "file"
	case Pebble:
		return "pebble"
	case Redis:
		return "redis"
	case Postgres:
		return "postgres"
	case Memory:
		return "memory"
	}
	return "unknown"
}

// ParseDriver maps a configuration name to a Driver.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "file":
		return File, nil
	case "pebble":
		return Pebble, nil
	case "redis":
		return Redis, nil
	case "postgres", "postgresql":
		return Postgres, nil
	case "memory":
		return Memory, nil
	}
	return 0, fmt.Errorf("unknown journal driver %q (want file|pebble|redis|postgres|memory)", name)
}

// Options configures Open.
type Options struct {
	Driver Driver

	// Path is the journal file for File and the data directory for Pebble.
	Path  string
	Fsync bool

	RedisAddr   string
	RedisStream string

	PostgresDSN string

	Logger *slog.Logger
}

// Open creates the journal selected by opts.Driver.
func Open(ctx context.Context, opts Options) (domain.Journal, error) {
	switch opts.Driver {
	case File:
		return OpenFile(opts.Path, opts.Fsync, opts.Logger)
	case Pebble:
		return OpenPebble(opts.Path)
	case Redis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisStream)
	case Postgres:
		return OpenPostgres(ctx, opts.PostgresDSN)
	case Memory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported journal driver %s", opts.Driver)
	}
}
