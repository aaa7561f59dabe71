package directory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process directory ordered by subscription time then id.
type Memory struct {
	mu   sync.RWMutex
	recs map[int64]Recipient
}

func NewMemory(rs ...Recipient) *Memory {
	m := &Memory{recs: make(map[int64]Recipient, len(rs))}
	for _, r := range rs {
		m.recs[r.ID] = r
	}
	return m
}

func (m *Memory) snapshot() []Recipient {
	m.mu.RLock()
	out := make([]Recipient, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].SubscribedAt.Before(out[j].SubscribedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active iterates over a snapshot taken when iteration starts.
func (m *Memory) Active(ctx context.Context) iter.Seq2[Recipient, error] {
	return func(yield func(Recipient, error) bool) {
		for _, r := range m.snapshot() {
			if err := ctx.Err(); err != nil {
				yield(Recipient{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *Memory) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	delete(m.recs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs), nil
}

// Add inserts r; an existing id keeps its original subscription time.
func (m *Memory) Add(_ context.Context, r Recipient) error {
	if r.ID <= 0 {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.recs[r.ID]; ok {
		r.SubscribedAt = old.SubscribedAt
	} else if r.SubscribedAt.IsZero() {
		r.SubscribedAt = time.Now()
	}
	m.recs[r.ID] = r
	return nil
}

// Has reports whether id is present.
func (m *Memory) Has(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.recs[id]
	return ok
}

func (m *Memory) Close() error { return nil }
