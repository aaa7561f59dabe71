package storage

import (
	"errors"
	"strings"

	logx "dailycast/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// KnownDriver reports whether Open accepts the driver name.
func KnownDriver(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "memory", "file", "sqlite", "sqlite3":
		return true
	}
	return false
}
