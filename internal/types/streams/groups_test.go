package streams_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/types/streams"
)

func newGroupFixture(t *testing.T) (storage.PageStore, *streams.Engine) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, streams.New(keydir.New())
}

func TestGroupLifecycleDeliversAndAcks(t *testing.T) {
	store, eng := newGroupFixture(t)
	ctx := context.Background()
	name := []byte("s")

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.XAdd(ctx, tx, 0, name, nil, 1000, []streams.Field{{Name: []byte("f"), Value: []byte("v")}})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.XGroupCreate(ctx, tx, 0, name, []byte("g"), streams.Zero, false)
	})
	require.NoError(t, err)

	var delivered []streams.Entry
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		delivered, err = eng.XReadGroup(ctx, tx, 0, name, []byte("g"), []byte("c1"), 10, 2000)
		return err
	})
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		summary, err := eng.XPending(ctx, tx, 0, name, []byte("g"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Count)
		assert.Equal(t, int64(1), summary.Consumers["c1"])
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		acked, err := eng.XAck(ctx, tx, 0, name, []byte("g"), []streams.ID{delivered[0].ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), acked)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		summary, err := eng.XPending(ctx, tx, 0, name, []byte("g"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.Count)
		return nil
	})
	require.NoError(t, err)
}

func TestXClaimReassignsAfterMinIdle(t *testing.T) {
	store, eng := newGroupFixture(t)
	ctx := context.Background()
	name := []byte("s")

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.XAdd(ctx, tx, 0, name, nil, 1000, []streams.Field{{Name: []byte("f"), Value: []byte("v")}})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.XGroupCreate(ctx, tx, 0, name, []byte("g"), streams.Zero, false)
	})
	require.NoError(t, err)

	var delivered []streams.Entry
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		delivered, err = eng.XReadGroup(ctx, tx, 0, name, []byte("g"), []byte("c1"), 10, 2000)
		return err
	})
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		claimed, err := eng.XClaim(ctx, tx, 0, name, []byte("g"), []byte("c2"), []streams.ID{delivered[0].ID}, 500, 3000, false)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, delivered[0].ID, claimed[0].ID)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		summary, err := eng.XPending(ctx, tx, 0, name, []byte("g"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Consumers["c2"])
		assert.Equal(t, int64(0), summary.Consumers["c1"])
		return nil
	})
	require.NoError(t, err)
}

func TestXGroupDestroyRemovesPEL(t *testing.T) {
	store, eng := newGroupFixture(t)
	ctx := context.Background()
	name := []byte("s")

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.XAdd(ctx, tx, 0, name, nil, 1000, []streams.Field{{Name: []byte("f"), Value: []byte("v")}})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.XGroupCreate(ctx, tx, 0, name, []byte("g"), streams.Zero, false)
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.XReadGroup(ctx, tx, 0, name, []byte("g"), []byte("c1"), 10, 2000)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		existed, err := eng.XGroupDestroy(ctx, tx, 0, name, []byte("g"))
		require.NoError(t, err)
		assert.True(t, existed)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		_, err := eng.XPending(ctx, tx, 0, name, []byte("g"))
		assert.ErrorIs(t, err, engine.ErrNoGroup)
		return nil
	})
	require.NoError(t, err)
}
