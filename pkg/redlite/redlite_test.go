package redlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/pkg/redlite"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{Backend: config.BackendSQLite, Path: ":memory:", CachePages: 200},
		Eviction:  config.EvictionConfig{Policy: config.PolicyNoEviction},
		Vacuum:    config.VacuumConfig{Enabled: false},
		History:   config.HistoryConfig{Enabled: false},
		Databases: 4,
	}
}

func TestOpenAndDoSetGet(t *testing.T) {
	db, err := redlite.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer db.Close()

	conn := db.NewConn()
	defer conn.Close()

	_, err = conn.Do(context.Background(), "SET", "k", "v")
	require.NoError(t, err)

	reply, err := conn.Do(context.Background(), "GET", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(reply.Bulk))
}

func TestDoSurfacesErrorReplyAsGoError(t *testing.T) {
	db, err := redlite.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer db.Close()

	conn := db.NewConn()
	defer conn.Close()

	_, err = conn.Do(context.Background(), "NOTACOMMAND")
	assert.Error(t, err)
}

func TestPubSubDeliversOnMessagesChannel(t *testing.T) {
	db, err := redlite.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer db.Close()

	sub := db.NewConn()
	defer sub.Close()
	_, err = sub.Do(context.Background(), "SUBSCRIBE", "chan1")
	require.NoError(t, err)

	pub := db.NewConn()
	defer pub.Close()
	_, err = pub.Do(context.Background(), "PUBLISH", "chan1", "hello")
	require.NoError(t, err)

	msg := <-sub.Messages()
	assert.Equal(t, "chan1", string(msg.Channel))
	assert.Equal(t, "hello", string(msg.Payload))
}

func TestOpenRejectsNilConfig(t *testing.T) {
	_, err := redlite.Open(context.Background(), nil)
	assert.Error(t, err)
}
