package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "dailycast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// auditKeep bounds the audit table; older rows are pruned every pruneEvery appends.
const auditKeep = 10000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSeen(ctx context.Context, key string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT ids FROM seen WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode seen %q: %w", key, err)
	}
	return ids, nil
}

func (s *sqliteStore) SaveSeen(ctx context.Context, key string, ids []string) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO seen(key, ids, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET ids=excluded.ids, updated_at=excluded.updated_at`,
		key, string(b), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	incomplete := 0
	if e.Incomplete {
		incomplete = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, kind, stream, pass_id, actor_id, actor_username, action, total, delivered, gone, transient, skipped, incomplete, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Kind, nullStr(e.Stream), nullStr(e.PassID), e.ActorID, nullStr(e.ActorUsername),
		nullStr(e.Action), e.Total, e.Delivered, e.Gone, e.Transient, e.Skipped, incomplete, nullStr(e.Error), e.TookMS,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) pruneAudit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit WHERE id <= (SELECT MAX(id) FROM audit) - ?`, auditKeep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
