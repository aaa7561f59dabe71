package storage

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	seen  map[string][]string
	audit []AuditEntry
}

func NewMemory() Store {
	return &memoryStore{seen: map[string][]string{}}
}

func (s *memoryStore) LoadSeen(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen[key]...), nil
}

func (s *memoryStore) SaveSeen(_ context.Context, key string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = append([]string(nil), ids...)
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	if len(s.audit) > 1000 {
		s.audit = s.audit[len(s.audit)-1000:]
	}
	return nil
}

func (s *memoryStore) Close() error { return nil }
