package server_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/server"
	"github.com/redlite/redlite/pkg/redlite"
)

// startServer opens an in-memory redlite.DB and serves it on addr until the test's context is
// cancelled, the same way cmd/redlite-server wires internal/server over pkg/redlite.
func startServer(t *testing.T, addr string) (context.CancelFunc, *redlite.DB) {
	t.Helper()

	cfg := &config.Config{
		Storage:   config.StorageConfig{Backend: config.BackendSQLite, Path: ":memory:", CachePages: 200},
		Eviction:  config.EvictionConfig{Policy: config.PolicyNoEviction},
		Vacuum:    config.VacuumConfig{Enabled: false},
		Databases: 4,
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, err := redlite.Open(ctx, cfg)
	require.NoError(t, err)

	srv := server.New(config.ServerConfig{Addr: addr, GracefulShutdownTimeout: time.Second}, db.Dispatcher(), db.Directory(), nil)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = srv.ListenAndServe(ctx)
	}()
	<-started
	time.Sleep(100 * time.Millisecond) // let the listener bind before the client dials

	return cancel, db
}

func TestServerServesRealRedisClient(t *testing.T) {
	cancel, db := startServer(t, "127.0.0.1:16399")
	defer cancel()
	defer db.Close()

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:16399"})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	require.NoError(t, client.Set(ctx, "greeting", "hello", 0).Err())

	val, err := client.Get(ctx, "greeting").Result()
	require.NoError(t, err)
	assert.Equal(t, "hello", val)

	n, err := client.Del(ctx, "greeting").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = client.Get(ctx, "greeting").Result()
	assert.ErrorIs(t, err, goredis.Nil)
}

func TestServerPublishSubscribe(t *testing.T) {
	cancel, db := startServer(t, "127.0.0.1:16400")
	defer cancel()
	defer db.Close()

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:16400"})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "news")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n, err := client.Publish(ctx, "news", "breaking").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgCtx, msgCancel := context.WithTimeout(ctx, 2*time.Second)
	defer msgCancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	require.NoError(t, err)
	assert.Equal(t, "news", msg.Channel)
	assert.Equal(t, "breaking", msg.Payload)
}
