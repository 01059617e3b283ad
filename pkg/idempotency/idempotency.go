package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/redis"
)

// Manager records which (scope, key) pairs already had a side effect attempted,
// using Redis SETNX with a TTL. Keys follow `nh:idempotency:attempted:<scope>:<key>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that keeps markers for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMark returns true if the pair was already marked and otherwise marks it.
func (m *Manager) CheckAndMark(ctx context.Context, scope, key string) (bool, error) {
	redisKey, err := m.markerKey(scope, key)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, redisKey, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// IsMarked reports whether the pair has a marker without creating one.
func (m *Manager) IsMarked(ctx context.Context, scope, key string) (bool, error) {
	redisKey, err := m.markerKey(scope, key)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Get(ctx, redisKey); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Clear drops the marker so the next attempt proceeds.
func (m *Manager) Clear(ctx context.Context, scope, key string) error {
	redisKey, err := m.markerKey(scope, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, redisKey)
}

func (m *Manager) markerKey(scope, key string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", errors.New("scope is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("attempted:%s", scope), key), nil
}
