package presence

import (
	"context"
	"fmt"
	"time"

	"chat-server/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient defines the subset of go-redis the tracker needs.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// RedisTracker mirrors the router's registry into Redis so other processes
// can answer "who is online" without going through the router. Each online
// user has a key `presence:user:{id}` that expires unless refreshed.
type RedisTracker struct {
	client redisClient
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisTracker(client redisClient, ttl time.Duration) (*RedisTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisTracker{
		client: client,
		ttl:    ttl,
		log:    logger.Component("presence"),
	}, nil
}

func userKey(id uuid.UUID) string {
	return "presence:user:" + id.String()
}

// TTL is how long an Online mark lasts without a refresh.
func (t *RedisTracker) TTL() time.Duration {
	return t.ttl
}

// Online marks the user online, or extends an existing mark.
func (t *RedisTracker) Online(ctx context.Context, userID uuid.UUID) error {
	if err := t.client.Set(ctx, userKey(userID), time.Now().Unix(), t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence for %s: %w", userID, err)
	}
	return nil
}

func (t *RedisTracker) Offline(ctx context.Context, userID uuid.UUID) error {
	if err := t.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence for %s: %w", userID, err)
	}
	return nil
}

// OnlineAmong returns the subset of ids currently marked online, in input order.
func (t *RedisTracker) OnlineAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}

	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	online := make([]uuid.UUID, 0, len(ids))
	for i, v := range vals {
		if v != nil {
			online = append(online, ids[i])
		}
	}
	t.log.Debug().Int("asked", len(ids)).Int("online", len(online)).Msg("presence lookup")
	return online, nil
}
