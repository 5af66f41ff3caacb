// Package cache mirrors presence state into Redis so other services can read
// a user's status without reaching the realtime process.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-realtime/internal/models"
)

const defaultPrefix = "presence:"

// PresenceCache stores the latest UserStatus per user under prefix+userID.
type PresenceCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewPresenceCache(client redis.Cmdable, prefix string, ttl time.Duration) *PresenceCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &PresenceCache{client: client, prefix: prefix, ttl: ttl}
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c *PresenceCache) key(userID string) string {
	return c.prefix + userID
}

// UpdateUserStatus writes the status with the configured TTL.
func (c *PresenceCache) UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("presence cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("presence cache set: %w", err)
	}
	return nil
}

// GetStatus returns the mirrored status; ok is false when nothing is stored.
func (c *PresenceCache) GetStatus(ctx context.Context, userID string) (models.UserStatus, bool, error) {
	var status models.UserStatus
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return status, false, nil
		}
		return status, false, fmt.Errorf("presence cache get: %w", err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, false, fmt.Errorf("presence cache unmarshal: %w", err)
	}
	return status, true, nil
}
