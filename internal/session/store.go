// Package session resolves opaque bearer tokens to signed-in user identities.
// It is the adapter in front of the external identity provider: the messaging
// core only ever sees the user id an authenticated edge connection carries,
// never the token itself. Session state lives in Redis hashes with a sliding
// TTL.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all session hashes.
	KeyPrefix = "session:"

	// TTL is the sliding time-to-live for session keys.
	TTL = 24 * time.Hour
)

// Session is one authenticated edge session.
type Session struct {
	Token      string `redis:"token"`
	UserID     string `redis:"user_id"`
	Server     string `redis:"server"` // which chatd instance issued it
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a session store on an existing Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create issues a new token for the user and stores the session hash.
func (s *Store) Create(ctx context.Context, userID string) (Session, error) {
	now := time.Now().Unix()
	sess := Session{
		Token:      uuid.NewString(),
		UserID:     userID,
		Server:     s.serverName,
		CreatedAt:  now,
		LastActive: now,
	}

	key := KeyPrefix + sess.Token
	fields := map[string]interface{}{
		"token":       sess.Token,
		"user_id":     sess.UserID,
		"server":      sess.Server,
		"created_at":  sess.CreatedAt,
		"last_active": sess.LastActive,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get resolves a token to its session. Returns nil if the token is unknown
// or expired.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, KeyPrefix+token).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if sess.UserID == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Touch bumps the session's last-active stamp and slides its TTL.
func (s *Store) Touch(ctx context.Context, token string) error {
	key := KeyPrefix + token
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// Delete removes a session immediately (sign-out).
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, KeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}
