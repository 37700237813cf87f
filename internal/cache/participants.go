// Package cache keeps hot authorization lookups out of Postgres.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"social-events/internal/repositories"
)

// kv is the subset of *redis.Client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// ParticipantCache decorates a ChatRepository with a Redis cache of positive
// IsParticipant answers. Negative answers are never cached so a user added to
// a chat can join immediately; removals take effect after ttl.
type ParticipantCache struct {
	repositories.ChatRepository
	client    kv
	ttl       time.Duration
	keyPrefix string
	log       zerolog.Logger
}

// NewParticipantCache wraps repo. client is usually a *redis.Client.
func NewParticipantCache(repo repositories.ChatRepository, client kv, ttl time.Duration, log zerolog.Logger) *ParticipantCache {
	return &ParticipantCache{
		ChatRepository: repo,
		client:         client,
		ttl:            ttl,
		keyPrefix:      "chat:participant:",
		log:            log,
	}
}

// NewRedisClient builds a client and checks connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *ParticipantCache) key(chatID, userID int64) string {
	return fmt.Sprintf("%s%d:%d", c.keyPrefix, chatID, userID)
}

// IsParticipant answers from Redis when possible and falls back to the
// repository on a miss or any cache error.
func (c *ParticipantCache) IsParticipant(ctx context.Context, chatID int64, userID int64) (bool, error) {
	key := c.key(chatID, userID)
	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && val == "1":
		return true, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Int64("chat_id", chatID).Msg("participant cache read failed")
	}

	ok, err := c.ChatRepository.IsParticipant(ctx, chatID, userID)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Int64("chat_id", chatID).Msg("participant cache write failed")
	}
	return true, nil
}
