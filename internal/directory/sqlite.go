package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "dailycast/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recipients (
	id            INTEGER PRIMARY KEY,
	name          TEXT,
	subscribed_at INTEGER NOT NULL
);`

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Directory, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return nil, errors.New("sqlite directory path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate recipients: %w", err)
	}
	log.Info("directory opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqlDirectory{
		db:       db,
		log:      log,
		pageSize: cfg.PageSize,
		qPage:    `SELECT id, name, subscribed_at FROM recipients WHERE id > ? ORDER BY id LIMIT ?`,
		qRemove:  `DELETE FROM recipients WHERE id = ?`,
		qCount:   `SELECT COUNT(*) FROM recipients`,
		qAdd: `INSERT INTO recipients(id, name, subscribed_at) VALUES(?,?,?)
		       ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
	}, nil
}
