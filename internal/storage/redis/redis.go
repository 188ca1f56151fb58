// Package redis keeps short lived shared state in Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace-settlement/internal/payple"
)

// Connect creates a client from a redis:// URL or a host:port address and
// checks that the server answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// DefaultTokenKey is where the Payple access token is stored.
const DefaultTokenKey = "payple:access_token"

var _ payple.TokenCache = (*TokenCache)(nil)

// TokenCache shares the Payple access token between API replicas so that
// only one of them authenticates per token lifetime.
type TokenCache struct {
	client *redis.Client
	key    string
}

// NewTokenCache returns a TokenCache storing the token under key. An empty
// key selects DefaultTokenKey.
func NewTokenCache(client *redis.Client, key string) *TokenCache {
	if key == "" {
		key = DefaultTokenKey
	}
	return &TokenCache{client: client, key: key}
}

// Get returns the cached token or "" when none is cached.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	token, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting %s: %w", c.key, err)
	}
	return token, nil
}

// Set stores token until ttl elapses.
func (c *TokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key, token, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", c.key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *TokenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
