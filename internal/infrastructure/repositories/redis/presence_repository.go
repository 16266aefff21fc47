package redis

import (
	"context"
	"fmt"
	"time"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// busyTTL bounds how long a stale busy flag can outlive a crashed server;
// answered calls refresh it through reconnect traffic.
const busyTTL = 12 * time.Hour

type RedisPresenceRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisPresenceRepository(client *redis.Client) ports.PresenceRepository {
	return &RedisPresenceRepository{
		client: client,
		prefix: "mpcomm:busy:",
	}
}

func (r *RedisPresenceRepository) busyKey(contactID domain.ContactID) string {
	return r.prefix + string(contactID)
}

func (r *RedisPresenceRepository) SetBusy(ctx context.Context, contactID domain.ContactID, callID domain.CallID) error {
	key := r.busyKey(contactID)
	if err := r.client.Set(ctx, key, string(callID), busyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set busy flag in Redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) ClearBusy(ctx context.Context, contactID domain.ContactID) error {
	key := r.busyKey(contactID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear busy flag in Redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) IsBusy(ctx context.Context, contactID domain.ContactID) (bool, error) {
	key := r.busyKey(contactID)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check busy flag in Redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisPresenceRepository) Close() error {
	return nil
}
