// Package cache holds the Redis side of the notification pipeline: key
// naming, fire-and-forget invalidation and a read-through cache of channel
// membership pages.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const prefix = "hookpipe:"

// NotificationsKey caches the first timeline page of a user.
func NotificationsKey(userID uint64) string {
	return prefix + "notifications:" + strconv.FormatUint(userID, 10)
}

// VisitKey caches a user's visit detail and unread count.
func VisitKey(userID uint64) string {
	return prefix + "visit:" + strconv.FormatUint(userID, 10)
}

// MembersKey holds the cached membership pages of a channel.
func MembersKey(channelID uint64) string {
	return prefix + "members:" + strconv.FormatUint(channelID, 10)
}

// UserKeys returns every key derived from a user's timeline.
func UserKeys(userID uint64) []string {
	return []string{NotificationsKey(userID), VisitKey(userID)}
}

// Invalidator drops cache entries after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Nop discards invalidations.
type Nop struct{}

func (Nop) Invalidate(context.Context, ...string) error { return nil }

// Redis invalidates keys with DEL.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a Redis invalidator.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: del %d keys: %w", len(keys), err)
	}
	return nil
}

// Invalidate runs inv and logs a failure instead of returning it.
func Invalidate(ctx context.Context, inv Invalidator, logger *slog.Logger, keys ...string) {
	if inv == nil || len(keys) == 0 {
		return
	}
	if err := inv.Invalidate(ctx, keys...); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("cache invalidation failed", "keys", len(keys), "error", err)
	}
}

// Open connects to the Redis server at url (redis://host:port/db) and
// verifies the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}
