package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for presence records.
const KeyPrefix = "presence:"

// RedisRegistry stores the shared online set as TTL'd Redis keys:
//
//	Key:   presence:<user_id>
//	Value: "1"
//	TTL:   one heartbeat interval
//
// Keys expire on their own, so a client that vanishes without an explicit
// leave drops out of the set within one interval.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a registry using the provided Redis client.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Put upserts the user's presence key with the given TTL.
func (r *RedisRegistry) Put(ctx context.Context, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, KeyPrefix+userID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("presence: put %s: %w", userID, err)
	}
	return nil
}

// Remove deletes the user's presence key immediately.
func (r *RedisRegistry) Remove(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, KeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("presence: remove %s: %w", userID, err)
	}
	return nil
}

// Members scans the presence keyspace and returns the current member set.
func (r *RedisRegistry) Members(ctx context.Context) ([]string, error) {
	var members []string
	iter := r.client.Scan(ctx, 0, KeyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		members = append(members, strings.TrimPrefix(iter.Val(), KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: scan members: %w", err)
	}
	return members, nil
}
