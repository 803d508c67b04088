package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maestrohq/maestro/internal/log"
)

// fakeRedis implements Client over an in-memory map with expirations.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	now     time.Time

	failing bool // all operations error when set
	getCall int
	setCall int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Unix(1700000000, 0),
	}
}

func (f *fakeRedis) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCall++
	if f.failing {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	if exp, ok := f.expires[key]; ok && f.now.After(exp) {
		delete(f.values, key)
		delete(f.expires, key)
	}
	val, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCall++
	if f.failing {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	f.values[key] = value.(string)
	if expiration > 0 {
		f.expires[key] = f.now.Add(expiration)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			delete(f.expires, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	if f.failing {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	return redis.NewStatusResult("PONG", nil)
}

func TestSetThenGetWithinTTL(t *testing.T) {
	rdb := newFakeRedis()
	c := New(rdb, log.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	got, ok := c.Get(ctx, "k")
	if !ok || got != "v" {
		t.Fatalf("Get after Set = (%q, %v), want (v, true)", got, ok)
	}
}

func TestGetAfterExpiry(t *testing.T) {
	rdb := newFakeRedis()
	c := New(rdb, log.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	rdb.advance(2 * time.Minute)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("Get after TTL expiry should miss")
	}
}

func TestInvalidationMakesNextReadMiss(t *testing.T) {
	rdb := newFakeRedis()
	c := New(rdb, log.NewNop())
	ctx := context.Background()

	c.Set(ctx, "messages:s1:10", "[]", TTLMessageHistory)
	c.Delete(ctx, "messages:s1:10")

	if _, ok := c.Get(ctx, "messages:s1:10"); ok {
		t.Fatal("Get after Delete should miss")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	rdb := newFakeRedis()
	c := New(rdb, log.NewNop())
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}

	c.SetJSON(ctx, "k", payload{Name: "gmail", Score: 7}, time.Minute)

	var got payload
	if !c.GetJSON(ctx, "k", &got) {
		t.Fatal("GetJSON missed after SetJSON")
	}
	if got.Name != "gmail" || got.Score != 7 {
		t.Fatalf("GetJSON = %+v", got)
	}
}

func TestCorruptEntryEvicted(t *testing.T) {
	rdb := newFakeRedis()
	c := New(rdb, log.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", "{not json", time.Minute)

	var got map[string]any
	if c.GetJSON(ctx, "k", &got) {
		t.Fatal("GetJSON returned true for corrupt payload")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("corrupt entry was not evicted")
	}
}

func TestRedisFailureIsAMiss(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failing = true
	c := New(rdb, log.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute) // must not panic
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("Get against failing backend should miss")
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatal("Ping against failing backend should error")
	}
}

func TestEncodeComponentASCIISafe(t *testing.T) {
	inputs := []string{
		"create a google doc titled 'Project Proposal'",
		"日本語のクエリ",
		strings.Repeat("x", 300),
		"a/b+c=d",
	}
	for _, in := range inputs {
		out := EncodeComponent(in)
		if strings.ContainsAny(out, "/+=") {
			t.Errorf("EncodeComponent(%q) contains unsafe chars: %q", in, out)
		}
		for _, r := range out {
			if r > 127 {
				t.Errorf("EncodeComponent(%q) not ASCII: %q", in, out)
			}
		}
	}

	if EncodeComponent("a") == EncodeComponent("b") {
		t.Error("distinct inputs must produce distinct components")
	}
}

func TestKeyBuilders(t *testing.T) {
	if got := MessagesKey("s1", 10); got != "messages:s1:10" {
		t.Errorf("MessagesKey = %q", got)
	}
	if got := SessionSummaryKey("s1"); got != "session_summary:s1" {
		t.Errorf("SessionSummaryKey = %q", got)
	}
	if got := ConnectionStatusKey("u1", "GMAIL"); got != "connection_status:u1:GMAIL" {
		t.Errorf("ConnectionStatusKey = %q", got)
	}
	// Free-form query content must be encoded, not embedded raw.
	routing := RoutingKey("what's up / how are you?")
	if strings.Contains(routing, "what's") {
		t.Errorf("RoutingKey embeds raw query: %q", routing)
	}
}
