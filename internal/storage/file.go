package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "dailycast/pkg/logx"
)

// fileStore keeps state next to the configured path.
//
// Files:
//   - <prefix>.seen.json    (snapshot of every seen set, rewritten on save)
//   - <prefix>.audit.jsonl  (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	auditFile *os.File
	seenPath  string
	seen      map[string][]string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{log: log, auditFile: af, seenPath: prefix + ".seen.json", seen: map[string][]string{}}
	if err := loadSnapshot(s.seenPath, s.seen); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A corrupt snapshot only loses dedup history.
		log.Warn("seen snapshot unreadable, starting empty", logx.String("path", s.seenPath), logx.Err(err))
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) LoadSeen(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen[key]...), nil
}

func (s *fileStore) SaveSeen(_ context.Context, key string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	s.seen[key] = append([]string(nil), ids...)
	return writeSnapshot(s.seenPath, s.seen)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func loadSnapshot(path string, out map[string][]string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &out)
}

// writeSnapshot replaces path atomically (write tmp, rename).
func writeSnapshot(path string, m map[string][]string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(m); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
