// Package cache provides a Redis-backed cache for projection snapshots.
// Snapshots are advisory: a miss or a Redis outage falls back to replaying
// the event log, so every error here is safe to ignore at call sites.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no snapshot exists for the requested key.
var ErrMiss = fmt.Errorf("cache: snapshot not found")

// Snapshots stores serialized projection state keyed by session and kind.
type Snapshots struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a Redis-backed snapshot cache from a redis:// URL.
func New(redisURL string, ttl time.Duration) (*Snapshots, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient creates a snapshot cache from an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Snapshots{
		client: client,
		prefix: "proj:",
		ttl:    ttl,
	}
}

// key generates the Redis key for a session's snapshot of one kind.
func (s *Snapshots) key(sessionKey, kind string) string {
	return s.prefix + sessionKey + ":" + kind
}

// Get loads a snapshot into dest, returning ErrMiss when absent.
func (s *Snapshots) Get(ctx context.Context, sessionKey, kind string, dest any) error {
	jsonData, err := s.client.Get(ctx, s.key(sessionKey, kind)).Result()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return nil
}

// Set stores a snapshot with the configured TTL.
func (s *Snapshots) Set(ctx context.Context, sessionKey, kind string, value any) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionKey, kind), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Invalidate removes all snapshots for a session. Called after every append
// so readers never fold a stale snapshot.
func (s *Snapshots) Invalidate(ctx context.Context, sessionKey string) error {
	pattern := s.prefix + sessionKey + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan snapshots: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Snapshots) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Snapshots) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
