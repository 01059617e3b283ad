package redis

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestSwapReturnsPreviousOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.PresenceKey("user-1")

	prev, err := client.Swap(ctx, key, "pod-a", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != "" {
		t.Fatalf("expected no previous owner, got %q", prev)
	}

	prev, err = client.Swap(ctx, key, "pod-b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != "pod-a" {
		t.Fatalf("expected pod-a as previous owner, got %q", prev)
	}
	if got, _ := client.Get(ctx, key); got != "pod-b" {
		t.Fatalf("expected pod-b to own key, got %q", got)
	}
}

func TestCompareAndDeleteOnlyRemovesMatchingValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.PresenceKey("user-1")

	if err := client.Set(ctx, key, "pod-b", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	deleted, err := client.CompareAndDelete(ctx, key, "pod-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Fatalf("stale owner must not delete the key")
	}
	deleted, err = client.CompareAndDelete(ctx, key, "pod-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Fatalf("expected owner to delete the key")
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestCompareAndExpire(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.PresenceKey("user-1")
	_ = client.Set(ctx, key, "pod-a", 0)

	refreshed, err := client.CompareAndExpire(ctx, key, "pod-a", time.Minute)
	if err != nil || !refreshed {
		t.Fatalf("expected refresh, got %v %v", refreshed, err)
	}
	refreshed, err = client.CompareAndExpire(ctx, key, "pod-z", time.Minute)
	if err != nil || refreshed {
		t.Fatalf("expected no refresh for other owner, got %v %v", refreshed, err)
	}
	if mock.ttl[key] != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", mock.ttl[key])
	}
}

func TestListAppendTrimsAndDrainEmpties(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.OfflineKey("user-1")

	for i := 0; i < 4; i++ {
		if _, err := client.ListAppend(ctx, key, fmt.Sprintf("p%d", i), 3, time.Hour); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if n, _ := client.ListLen(ctx, key); n != 3 {
		t.Fatalf("expected list trimmed to 3, got %d", n)
	}

	items, err := client.ListDrain(ctx, key)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(items) != 3 || items[0] != "p1" || items[2] != "p3" {
		t.Fatalf("unexpected drained items %v", items)
	}

	items, err = client.ListDrain(ctx, key)
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty second drain, got %v", items)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "nh:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.PresenceKey("user"); got != "nh:presence:user" {
		t.Fatalf("unexpected presence key %s", got)
	}
	if got := client.OfflineKey("user"); got != "nh:offline:user" {
		t.Fatalf("unexpected offline key %s", got)
	}
	if got := client.LockKey(""); got != "nh:lock" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.ListDrain(context.Background(), "k"); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
}

// mockCmdable emulates the handful of commands and scripts the client issues.
type mockCmdable struct {
	data  map[string]string
	lists map[string][]string
	ttl   map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:  make(map[string]string),
		lists: make(map[string][]string),
		ttl:   make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
		delete(m.data, key)
		delete(m.lists, key)
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) LLen(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(m.lists[key])), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	switch script {
	case swapScript:
		prev, ok := m.data[key]
		m.data[key] = fmt.Sprint(args[0])
		m.ttl[key] = time.Duration(toInt(args[1])) * time.Millisecond
		if !ok {
			return redis.NewCmdResult(nil, redis.Nil)
		}
		return redis.NewCmdResult(prev, nil)
	case compareDeleteScript:
		if m.data[key] == fmt.Sprint(args[0]) {
			delete(m.data, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case compareExpireScript:
		if m.data[key] == fmt.Sprint(args[0]) {
			m.ttl[key] = time.Duration(toInt(args[1])) * time.Millisecond
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case appendScript:
		list := append(m.lists[key], fmt.Sprint(args[0]))
		if limit := toInt(args[1]); limit > 0 && int64(len(list)) > limit {
			list = list[int64(len(list))-limit:]
		}
		m.lists[key] = list
		return redis.NewCmdResult(int64(len(list)), nil)
	case drainScript:
		items := m.lists[key]
		delete(m.lists, key)
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, item)
		}
		return redis.NewCmdResult(out, nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		parsed, _ := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		return parsed
	}
}
