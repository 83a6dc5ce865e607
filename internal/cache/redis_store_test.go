//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Addr: setupRedis(t), Prefix: "test:"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "session:1:page:0", []byte("page"), time.Minute))
	require.NoError(t, store.Set(ctx, "session:1:complete", []byte("doc"), time.Minute))
	require.NoError(t, store.Set(ctx, "session:2:complete", []byte("other"), time.Minute))

	got, err := store.Get(ctx, "session:1:complete")
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), got)

	n, err := store.CountByPrefix(ctx, "session:1:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteByPrefix(ctx, "session:1:"))

	_, err = store.Get(ctx, "session:1:page:0")
	assert.ErrorIs(t, err, ErrCacheMiss)

	n, err = store.CountByPrefix(ctx, "session:")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
