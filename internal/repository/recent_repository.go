package repository

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RecentViews keeps each user's recently viewed movie ids, most recent
// first, bounded to a fixed length.
type RecentViews interface {
	Push(ctx context.Context, userID, movieID uint64) error
	List(ctx context.Context, userID uint64) ([]uint64, error)
	// RemoveMovie drops movieID from every user's list.
	RemoveMovie(ctx context.Context, movieID uint64) error
}

// RedisRecentViews stores one list per user at "<prefix>:<userID>".
type RedisRecentViews struct {
	rdb    *redis.Client
	prefix string
	limit  int
}

func NewRedisRecentViews(rdb *redis.Client, prefix string, limit int) *RedisRecentViews {
	return &RedisRecentViews{rdb: rdb, prefix: prefix, limit: limit}
}

func (r *RedisRecentViews) key(userID uint64) string {
	return r.prefix + ":" + strconv.FormatUint(userID, 10)
}

func (r *RedisRecentViews) Push(ctx context.Context, userID, movieID uint64) error {
	key := r.key(userID)
	id := strconv.FormatUint(movieID, 10)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, key, 0, id)
		p.LPush(ctx, key, id)
		p.LTrim(ctx, key, 0, int64(r.limit-1))
		return nil
	})
	return err
}

func (r *RedisRecentViews) List(ctx context.Context, userID uint64) ([]uint64, error) {
	vals, err := r.rdb.LRange(ctx, r.key(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(vals))
	for _, v := range vals {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *RedisRecentViews) RemoveMovie(ctx context.Context, movieID uint64) error {
	id := strconv.FormatUint(movieID, 10)
	iter := r.rdb.Scan(ctx, 0, r.prefix+":*", 200).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.LRem(ctx, iter.Val(), 0, id).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// MemoryRecentViews is the in-process fallback used when Redis is absent.
type MemoryRecentViews struct {
	mu    sync.Mutex
	limit int
	lists map[uint64][]uint64
}

func NewMemoryRecentViews(limit int) *MemoryRecentViews {
	return &MemoryRecentViews{limit: limit, lists: map[uint64][]uint64{}}
}

func (m *MemoryRecentViews) Push(_ context.Context, userID, movieID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := []uint64{movieID}
	for _, id := range m.lists[userID] {
		if id != movieID && len(next) < m.limit {
			next = append(next, id)
		}
	}
	m.lists[userID] = next
	return nil
}

func (m *MemoryRecentViews) List(_ context.Context, userID uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64{}, m.lists[userID]...), nil
}

func (m *MemoryRecentViews) RemoveMovie(_ context.Context, movieID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, ids := range m.lists {
		kept := ids[:0]
		for _, id := range ids {
			if id != movieID {
				kept = append(kept, id)
			}
		}
		m.lists[uid] = kept
	}
	return nil
}
