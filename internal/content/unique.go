package content

import (
	"context"
	"sync"

	logx "dailycast/pkg/logx"
)

const (
	DefaultSeenLimit = 200
	DefaultRefetches = 5
)

// SeenSet is a bounded, insertion-ordered set of delivered item ids.
// Adding past the limit evicts the oldest id.
type SeenSet struct {
	limit int
	order []string
	index map[string]struct{}
}

func NewSeenSet(limit int, ids ...string) *SeenSet {
	if limit <= 0 {
		limit = DefaultSeenLimit
	}
	s := &SeenSet{limit: limit, index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *SeenSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *SeenSet) Add(id string) {
	if id == "" || s.Has(id) {
		return
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	for len(s.order) > s.limit {
		delete(s.index, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *SeenSet) Len() int { return len(s.order) }

// IDs returns the ids oldest first.
func (s *SeenSet) IDs() []string { return append([]string(nil), s.order...) }

// SeenStore persists seen sets by key. storage.Store satisfies it.
type SeenStore interface {
	LoadSeen(ctx context.Context, key string) ([]string, error)
	SaveSeen(ctx context.Context, key string, ids []string) error
}

// Unique wraps a Source and skips items whose id was already delivered.
// Items without an id always pass. After Refetches unsuccessful attempts the
// last item is returned anyway.
//
// Next does not mark an item seen; call MarkSeen once it has been delivered.
type Unique struct {
	src       Source
	store     SeenStore
	key       string
	refetches int
	limit     int
	log       logx.Logger

	mu   sync.Mutex
	seen *SeenSet
}

type UniqueConfig struct {
	Key       string
	Limit     int
	Refetches int
}

func NewUnique(src Source, store SeenStore, cfg UniqueConfig, log logx.Logger) *Unique {
	if cfg.Refetches <= 0 {
		cfg.Refetches = DefaultRefetches
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSeenLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Unique{src: src, store: store, key: cfg.Key, refetches: cfg.Refetches, limit: cfg.Limit, log: log}
}

func (u *Unique) load(ctx context.Context) *SeenSet {
	if u.seen != nil {
		return u.seen
	}
	var ids []string
	if u.store != nil {
		var err error
		if ids, err = u.store.LoadSeen(ctx, u.key); err != nil {
			// An unreadable history only risks a repeat; start empty.
			u.log.Warn("load seen ids failed", logx.String("key", u.key), logx.Err(err))
		}
	}
	u.seen = NewSeenSet(u.limit, ids...)
	return u.seen
}

func (u *Unique) Next(ctx context.Context) (Message, error) {
	u.mu.Lock()
	seen := u.load(ctx)
	u.mu.Unlock()

	m, err := u.src.Next(ctx)
	if err != nil {
		return Message{}, err
	}
	for i := 0; i < u.refetches && m.ID != "" && u.has(seen, m.ID); i++ {
		next, err := u.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			break
		}
		m = next
	}
	return m, nil
}

func (u *Unique) has(s *SeenSet, id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return s.Has(id)
}

// MarkSeen records id as delivered and persists the set.
func (u *Unique) MarkSeen(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	u.mu.Lock()
	seen := u.load(ctx)
	seen.Add(id)
	ids := seen.IDs()
	u.mu.Unlock()
	if u.store == nil {
		return nil
	}
	return u.store.SaveSeen(ctx, u.key, ids)
}

// Seen returns a copy of the current seen ids, oldest first.
func (u *Unique) Seen(ctx context.Context) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.load(ctx).IDs()
}

// Marker is implemented by sources that track delivery (Unique).
type Marker interface {
	MarkSeen(ctx context.Context, id string) error
}
