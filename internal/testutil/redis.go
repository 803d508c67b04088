package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryRedis is an in-memory substitute for the Redis client used by the
// cache package. It honors TTLs against a controllable clock.
//
// Thread-safe for concurrent use.
type MemoryRedis struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	now     time.Time
}

// NewMemoryRedis creates an empty in-memory Redis substitute.
func NewMemoryRedis() *MemoryRedis {
	return &MemoryRedis{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Unix(1700000000, 0),
	}
}

// Advance moves the fake clock forward, expiring entries whose TTL has passed.
func (m *MemoryRedis) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Len returns the number of live entries.
func (m *MemoryRedis) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.values {
		if exp, ok := m.expires[k]; !ok || !m.now.After(exp) {
			n++
		}
	}
	return n
}

// Get implements cache.Client.
func (m *MemoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expires[key]; ok && m.now.After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	val, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

// Set implements cache.Client.
func (m *MemoryRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	if expiration > 0 {
		m.expires[key] = m.now.Add(expiration)
	} else {
		delete(m.expires, key)
	}
	return redis.NewStatusResult("OK", nil)
}

// Del implements cache.Client.
func (m *MemoryRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			delete(m.expires, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

// Ping implements cache.Client.
func (m *MemoryRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}
