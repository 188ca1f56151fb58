//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestTokenCache(t *testing.T) {
	ctx := context.Background()
	client, err := Connect(ctx, startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cache := NewTokenCache(client, "")
	require.NoError(t, cache.Ping(ctx))

	token, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, cache.Set(ctx, "tok-1", time.Minute))
	token, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	ttl, err := client.TTL(ctx, DefaultTokenKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, cache.Set(ctx, "tok-2", 10*time.Millisecond))
	assert.Eventually(t, func() bool {
		token, err := cache.Get(ctx)
		return err == nil && token == ""
	}, 5*time.Second, 50*time.Millisecond)
}
