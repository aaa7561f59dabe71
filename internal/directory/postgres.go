package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	logx "dailycast/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recipients (
	id            BIGINT PRIMARY KEY,
	name          TEXT,
	subscribed_at BIGINT NOT NULL
)`

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Directory, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres directory dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate recipients: %w", err)
	}
	log.Info("directory opened", logx.String("driver", "postgres"))
	return newPostgres(db, cfg.PageSize, log), nil
}

// newPostgres wraps an open, migrated database.
func newPostgres(db *sql.DB, pageSize int, log logx.Logger) *sqlDirectory {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &sqlDirectory{
		db:       db,
		log:      log,
		pageSize: pageSize,
		qPage:    `SELECT id, name, subscribed_at FROM recipients WHERE id > $1 ORDER BY id LIMIT $2`,
		qRemove:  `DELETE FROM recipients WHERE id = $1`,
		qCount:   `SELECT COUNT(*) FROM recipients`,
		qAdd: `INSERT INTO recipients(id, name, subscribed_at) VALUES($1,$2,$3)
		       ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
	}
}
