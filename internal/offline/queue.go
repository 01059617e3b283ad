package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// Queue holds rendered payloads for users with no live connection.
type Queue interface {
	Enqueue(ctx context.Context, userID string, payload notifications.Payload) error
	// DrainAndClear returns the queued payloads oldest first and empties the
	// queue in one step; concurrent drains never see the same payload.
	DrainAndClear(ctx context.Context, userID string) ([]notifications.Payload, error)
}

// ListStore is the subset of pkg/redis backing RedisQueue.
type ListStore interface {
	ListAppend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) (int64, error)
	ListDrain(ctx context.Context, key string) ([]string, error)
	OfflineKey(userID string) string
}

// RedisQueue stores one JSON-encoded payload per list entry.
type RedisQueue struct {
	store      ListStore
	ttl        time.Duration
	maxEntries int64
	logg       *logger.Logger
}

func NewRedisQueue(store ListStore, ttl time.Duration, maxEntries int, logg *logger.Logger) (*RedisQueue, error) {
	if store == nil {
		return nil, errors.New("list store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisQueue{store: store, ttl: ttl, maxEntries: int64(maxEntries), logg: logg}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, userID string, payload notifications.Payload) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	size, err := q.store.ListAppend(ctx, q.store.OfflineKey(userID), string(data), q.maxEntries, q.ttl)
	if err != nil {
		return err
	}
	if q.maxEntries > 0 && size >= q.maxEntries {
		q.logg.Warn(q.logg.WithFields(ctx, map[string]any{"user_id": userID, "size": size}), "offline queue at capacity, oldest entries trimmed")
	}
	return nil
}

func (q *RedisQueue) DrainAndClear(ctx context.Context, userID string) ([]notifications.Payload, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	raw, err := q.store.ListDrain(ctx, q.store.OfflineKey(userID))
	if err != nil {
		return nil, err
	}
	out := make([]notifications.Payload, 0, len(raw))
	for _, item := range raw {
		var payload notifications.Payload
		if err := json.Unmarshal([]byte(item), &payload); err != nil {
			q.logg.Error(q.logg.WithUserID(ctx, userID), "dropping undecodable offline entry", err)
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}

// MemoryQueue is a process-local Queue. Capacity trimming matches RedisQueue.
type MemoryQueue struct {
	mu         sync.Mutex
	items      map[string][]notifications.Payload
	maxEntries int
}

func NewMemoryQueue(maxEntries int) *MemoryQueue {
	return &MemoryQueue{items: make(map[string][]notifications.Payload), maxEntries: maxEntries}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, userID string, payload notifications.Payload) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := append(q.items[userID], payload)
	if q.maxEntries > 0 && len(list) > q.maxEntries {
		list = list[len(list)-q.maxEntries:]
	}
	q.items[userID] = list
	return nil
}

func (q *MemoryQueue) DrainAndClear(ctx context.Context, userID string) ([]notifications.Payload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.items[userID]
	delete(q.items, userID)
	return list, nil
}

// Len reports the queued payload count for userID.
func (q *MemoryQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[userID])
}
