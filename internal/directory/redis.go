package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "dailycast/pkg/logx"
)

// redisDirectory keeps recipients in one hash: field = id, value = JSON record.
type redisDirectory struct {
	client *redis.Client
	key    string
	count  int64
	log    logx.Logger
}

type redisRecord struct {
	Name         string `json:"name,omitempty"`
	SubscribedAt int64  `json:"subscribed_at"`
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Directory, error) {
	addr := strings.TrimSpace(cfg.DSN)
	if addr == "" {
		return nil, errors.New("redis directory address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return newRedisDirectory(client, cfg, log), nil
}

func newRedisDirectory(client *redis.Client, cfg Config, log logx.Logger) *redisDirectory {
	prefix := strings.TrimSpace(cfg.Key)
	if prefix == "" {
		prefix = "dailycast"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	log.Info("directory opened", logx.String("driver", "redis"), logx.String("key", prefix+":recipients"))
	return &redisDirectory{client: client, key: prefix + ":recipients", count: int64(pageSize), log: log}
}

// Active walks the hash with HSCAN. HSCAN may return a field twice, so ids
// already yielded in this iteration are skipped.
func (d *redisDirectory) Active(ctx context.Context) iter.Seq2[Recipient, error] {
	return func(yield func(Recipient, error) bool) {
		seen := map[int64]struct{}{}
		var cursor uint64
		for {
			kv, next, err := d.client.HScan(ctx, d.key, cursor, "", d.count).Result()
			if err != nil {
				yield(Recipient{}, fmt.Errorf("hscan %s: %w", d.key, err))
				return
			}
			for i := 0; i+1 < len(kv); i += 2 {
				r, ok := d.decode(kv[i], kv[i+1])
				if !ok {
					continue
				}
				if _, dup := seen[r.ID]; dup {
					continue
				}
				seen[r.ID] = struct{}{}
				if !yield(r, nil) {
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

func (d *redisDirectory) decode(field, value string) (Recipient, bool) {
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		d.log.Warn("skipping malformed recipient field", logx.String("field", field))
		return Recipient{}, false
	}
	r := Recipient{ID: id}
	var rec redisRecord
	if err := json.Unmarshal([]byte(value), &rec); err == nil {
		r.Name = rec.Name
		if rec.SubscribedAt > 0 {
			r.SubscribedAt = time.Unix(rec.SubscribedAt, 0).UTC()
		}
	}
	return r, true
}

func (d *redisDirectory) Remove(ctx context.Context, id int64) error {
	return d.client.HDel(ctx, d.key, strconv.FormatInt(id, 10)).Err()
}

func (d *redisDirectory) Count(ctx context.Context) (int, error) {
	n, err := d.client.HLen(ctx, d.key).Result()
	return int(n), err
}

func (d *redisDirectory) Add(ctx context.Context, r Recipient) error {
	if r.ID <= 0 {
		return ErrInvalidID
	}
	field := strconv.FormatInt(r.ID, 10)
	at := r.SubscribedAt
	if at.IsZero() {
		at = time.Now()
	}
	if old, err := d.client.HGet(ctx, d.key, field).Result(); err == nil {
		var rec redisRecord
		if json.Unmarshal([]byte(old), &rec) == nil && rec.SubscribedAt > 0 {
			at = time.Unix(rec.SubscribedAt, 0)
		}
	} else if !errors.Is(err, redis.Nil) {
		return err
	}
	b, err := json.Marshal(redisRecord{Name: r.Name, SubscribedAt: at.Unix()})
	if err != nil {
		return err
	}
	return d.client.HSet(ctx, d.key, field, b).Err()
}

func (d *redisDirectory) Close() error { return d.client.Close() }
