package presence

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/redis"
)

// RedisClient is the subset of pkg/redis used for shared presence.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Swap(ctx context.Context, key, value string, ttl time.Duration) (string, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	PresenceKey(userID string) string
}

// RedisStore keeps presence keys with a TTL so a crashed instance's entries
// expire without cleanup.
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisStore(client RedisClient, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		return nil, errors.New("presence ttl must be positive")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Swap(ctx context.Context, userID, owner string) (string, error) {
	return s.client.Swap(ctx, s.client.PresenceKey(userID), owner, s.ttl)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (string, error) {
	value, err := s.client.Get(ctx, s.client.PresenceKey(userID))
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, userID, owner string) (bool, error) {
	return s.client.CompareAndDelete(ctx, s.client.PresenceKey(userID), owner)
}

func (s *RedisStore) Refresh(ctx context.Context, userID, owner string) (bool, error) {
	return s.client.CompareAndExpire(ctx, s.client.PresenceKey(userID), owner, s.ttl)
}
