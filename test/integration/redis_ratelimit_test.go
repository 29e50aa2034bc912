//go:build integration_tests
// +build integration_tests

// Copyright 2025 James Ross
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/ratelimit"
)

// TestRedisRateLimiterIntegration exercises the sliding window Lua script
// against a real Redis container rather than miniredis.
func TestRedisRateLimiterIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, endpoint := startRedisContainer(t, ctx)
	defer container.Terminate(ctx)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	defer client.Close()

	store := ratelimit.NewRedisStore(client, zap.NewNop())

	for i := 0; i < 5; i++ {
		ok, err := store.Allow(ctx, "tenant-a", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expected attempt %d to be allowed", i)
	}

	denied, err := store.Allow(ctx, "tenant-a", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, denied, "expected the 6th attempt to be denied")

	ok, err := store.Allow(ctx, "tenant-b", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expected an independent key to have its own budget")
}

func TestRedisRateLimiterWindowExpiryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, endpoint := startRedisContainer(t, ctx)
	defer container.Terminate(ctx)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	defer client.Close()

	store := ratelimit.NewRedisStore(client, zap.NewNop())

	ok, err := store.Allow(ctx, "burst", 1, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Allow(ctx, "burst", 1, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(3 * time.Second)

	ok, err = store.Allow(ctx, "burst", 1, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expected the window to reset after it elapses")
}

func startRedisContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return container, endpoint
}
