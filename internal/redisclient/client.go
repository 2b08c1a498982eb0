package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	cancelTTL = 24 * time.Hour
)

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(rdb), nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection, used by the readiness endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cancelKey(sessionID string) string {
	return fmt.Sprintf("sync:cancel:%s", sessionID)
}

func instanceKey(instanceID string) string {
	return fmt.Sprintf("sync:instance:%s", instanceID)
}

// RequestCancel raises the cancel flag of a session so that whichever
// process runs it stops before its next batch
func (c *Client) RequestCancel(ctx context.Context, sessionID string) error {
	return c.rdb.Set(ctx, cancelKey(sessionID), time.Now().UTC().Format(time.RFC3339), cancelTTL).Err()
}

// IsCancelRequested checks the cancel flag of a session
func (c *Client) IsCancelRequested(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, cancelKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearCancel drops the cancel flag once the session is terminal
func (c *Client) ClearCancel(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, cancelKey(sessionID)).Err()
}

// Heartbeat marks an engine instance alive for ttl
func (c *Client) Heartbeat(ctx context.Context, instanceID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, instanceKey(instanceID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// IsInstanceAlive reports whether an instance heartbeat is still present
func (c *Client) IsInstanceAlive(ctx context.Context, instanceID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, instanceKey(instanceID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AcquireLock acquires a distributed lock and returns the token that owns it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
