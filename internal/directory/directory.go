// Package directory holds the subscriber roster a broadcast iterates.
//
// Drivers: "memory", "sqlite" (modernc.org/sqlite), "postgres" (lib/pq) and
// "redis" (go-redis). All of them yield recipients lazily through Active and
// treat Remove of an unknown id as success.
package directory

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	logx "dailycast/pkg/logx"
)

// Recipient is one subscriber. ID is unique and never reused.
type Recipient struct {
	ID           int64
	Name         string
	SubscribedAt time.Time
}

// Directory is the recipient store.
//
// Active may be iterated concurrently with Remove; a recipient removed during
// iteration may or may not still be yielded.
type Directory interface {
	Active(ctx context.Context) iter.Seq2[Recipient, error]
	Remove(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Add(ctx context.Context, r Recipient) error
	Close() error
}

var ErrInvalidID = errors.New("directory: invalid recipient id")

type Config struct {
	Driver string
	// DSN is a file path (sqlite), a libpq connection string (postgres)
	// or a redis address (redis).
	DSN string

	RedisPassword string
	RedisDB       int
	// Key is the redis key prefix; defaults to "dailycast".
	Key string

	BusyTimeout time.Duration // sqlite only
	// PageSize bounds each fetch of the sql and redis drivers.
	PageSize int
}

const defaultPageSize = 500

func Open(ctx context.Context, cfg Config, log logx.Logger) (Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "directory"))
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pq":
		return openPostgres(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown directory driver: " + driver)
	}
}

// KnownDriver reports whether Open accepts the driver name.
func KnownDriver(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "memory", "sqlite", "sqlite3", "postgres", "postgresql", "pq", "redis":
		return true
	}
	return false
}

func errSeq(err error) iter.Seq2[Recipient, error] {
	return func(yield func(Recipient, error) bool) {
		yield(Recipient{}, err)
	}
}
