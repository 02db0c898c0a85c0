package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror keys.  The mirror is a non-authoritative copy of a device's auth
// state; the identity provider remains the source of truth.
const (
	KeyIsLoggedIn       = "isLoggedIn"
	KeyUsername         = "username"
	KeyUserType         = "userType"
	KeyRememberMe       = "rememberMe"
	KeyLastActivityTime = "lastActivityTime"
)

// AllKeys lists every key a sign-out clears.
var AllKeys = []string{KeyRememberMe, KeyLastActivityTime, KeyIsLoggedIn, KeyUsername, KeyUserType}

// Mirror stores small string values per device.
type Mirror interface {
	Get(ctx context.Context, deviceID, key string) (string, bool, error)
	All(ctx context.Context, deviceID string) (map[string]string, error)
	Set(ctx context.Context, deviceID string, values map[string]string) error
	Delete(ctx context.Context, deviceID string, keys ...string) error
}

// RedisMirror keeps one hash per device under "<prefix>:<device id>".
// Every write pushes the key's expiry out by ttl.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(rdb *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) key(deviceID string) string { return m.prefix + ":" + deviceID }

func (m *RedisMirror) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	v, err := m.rdb.HGet(ctx, m.key(deviceID), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (m *RedisMirror) All(ctx context.Context, deviceID string) (map[string]string, error) {
	return m.rdb.HGetAll(ctx, m.key(deviceID)).Result()
}

func (m *RedisMirror) Set(ctx context.Context, deviceID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	k := m.key(deviceID)
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, k, values)
	if m.ttl > 0 {
		pipe.Expire(ctx, k, m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) Delete(ctx context.Context, deviceID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.rdb.HDel(ctx, m.key(deviceID), keys...).Err()
}

// MemoryMirror is a process-local Mirror, used when Redis is unavailable
// and in tests.
type MemoryMirror struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{data: make(map[string]map[string]string)}
}

func (m *MemoryMirror) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[deviceID][key]
	return v, ok, nil
}

func (m *MemoryMirror) All(_ context.Context, deviceID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data[deviceID]))
	for k, v := range m.data[deviceID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryMirror) Set(_ context.Context, deviceID string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.data[deviceID]
	if !ok {
		dev = make(map[string]string, len(values))
		m.data[deviceID] = dev
	}
	for k, v := range values {
		dev[k] = v
	}
	return nil
}

func (m *MemoryMirror) Delete(_ context.Context, deviceID string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := m.data[deviceID]
	for _, k := range keys {
		delete(dev, k)
	}
	if len(dev) == 0 {
		delete(m.data, deviceID)
	}
	return nil
}
