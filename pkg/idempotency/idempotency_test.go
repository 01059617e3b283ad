package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/redis"
)

type fakeStore struct {
	values      map[string]string
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]string{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	if f.setNXError != nil {
		return false, f.setNXError
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = "1"
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "nh:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
		f.lastDeleted = key
	}
	return nil
}

func TestCheckAndMark_FirstTimeThenMarked(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	already, err := manager.CheckAndMark(context.Background(), "live", "evt-1:user-1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if already {
		t.Fatalf("expected first call to return false")
	}
	if store.lastKey != "nh:idempotency:attempted:live:evt-1:user-1" {
		t.Fatalf("unexpected key: %q", store.lastKey)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", store.lastTTL)
	}

	already, err = manager.CheckAndMark(context.Background(), "live", "evt-1:user-1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if !already {
		t.Fatalf("expected second call to report the marker")
	}
}

func TestIsMarkedDoesNotCreate(t *testing.T) {
	store := newFakeStore()
	manager, _ := NewManager(store, time.Hour)

	marked, err := manager.IsMarked(context.Background(), "live", "evt-1:user-1")
	if err != nil {
		t.Fatalf("IsMarked: %v", err)
	}
	if marked || len(store.values) != 0 {
		t.Fatalf("IsMarked must not write a marker")
	}
}

func TestClearRemovesMarker(t *testing.T) {
	store := newFakeStore()
	manager, _ := NewManager(store, time.Hour)
	ctx := context.Background()

	_, _ = manager.CheckAndMark(ctx, "live", "k")
	if err := manager.Clear(ctx, "live", "k"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if store.lastDeleted != "nh:idempotency:attempted:live:k" {
		t.Fatalf("unexpected deleted key %q", store.lastDeleted)
	}
	if marked, _ := manager.IsMarked(ctx, "live", "k"); marked {
		t.Fatalf("expected marker to be gone")
	}
}

func TestCheckAndMark_Errors(t *testing.T) {
	store := newFakeStore()
	store.setNXError = errors.New("redis down")
	manager, _ := NewManager(store, time.Hour)

	if _, err := manager.CheckAndMark(context.Background(), "live", "k"); err == nil {
		t.Fatalf("expected store error to propagate")
	}
	if _, err := manager.CheckAndMark(context.Background(), "", "k"); err == nil {
		t.Fatalf("expected missing scope to fail")
	}
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatalf("expected nil store to fail")
	}
}
