//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/marcelsud/webhook-outbox/webhook/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// testRedis is a throwaway Redis server plus a raw client for inspecting keys
type testRedis struct {
	Addr   string
	client *goredis.Client
}

// startRedis runs a Redis container for the test and terminates it on cleanup
func startRedis(t *testing.T, ctx context.Context) *testRedis {
	t.Helper()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "starting redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating redis container: %v", err)
		}
	})

	conn, err := container.ConnectionString(ctx)
	require.NoError(t, err, "reading redis connection string")

	tr := &testRedis{Addr: strings.TrimPrefix(conn, "redis://")}
	tr.client = goredis.NewClient(&goredis.Options{Addr: tr.Addr})
	t.Cleanup(func() { _ = tr.client.Close() })
	require.NoError(t, tr.client.Ping(ctx).Err(), "pinging redis")
	return tr
}

// repository connects a store repository to the container
func (tr *testRedis) repository(t *testing.T, opts ...redis.Option) *redis.Repository {
	t.Helper()

	repo, err := redis.NewRepository(tr.Addr, "", 0, opts...)
	require.NoError(t, err, "creating redis repository")
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

// ttlSeconds returns the remaining TTL of key; -1 means no expiry
func (tr *testRedis) ttlSeconds(t *testing.T, key string) int64 {
	t.Helper()

	ttl, err := tr.client.TTL(context.Background(), key).Result()
	require.NoError(t, err)
	return int64(ttl.Seconds())
}

func (tr *testRedis) exists(t *testing.T, key string) bool {
	t.Helper()

	n, err := tr.client.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	return n > 0
}

var idSeq atomic.Int64

// uniqueID returns an id no other test in the run uses
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idSeq.Add(1))
}
