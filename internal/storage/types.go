package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence API used by content dedup and the audit trail.
type Store interface {
	LoadSeen(ctx context.Context, key string) ([]string, error)
	SaveSeen(ctx context.Context, key string, ids []string) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart
//   - "file": <path>.seen.json and <path>.audit.jsonl
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const (
	AuditPass    = "pass"
	AuditCommand = "command"
)

// AuditEntry records one pass or one operator command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	Kind          string    `json:"kind"`
	Stream        string    `json:"stream,omitempty"`
	PassID        string    `json:"pass_id,omitempty"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action,omitempty"`
	Total         int       `json:"total"`
	Delivered     int       `json:"delivered"`
	Gone          int       `json:"gone"`
	Transient     int       `json:"transient"`
	Skipped       int       `json:"skipped"`
	Incomplete    bool      `json:"incomplete,omitempty"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
