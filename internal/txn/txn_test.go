package txn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/txn"
	"github.com/redlite/redlite/internal/types/strings"
)

func newFixture(t *testing.T) (storage.PageStore, *keydir.Directory, *strings.Engine) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	dir := keydir.New()
	return store, dir, strings.New(dir)
}

func TestMultiExecQueuesAndRuns(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()
	sess := txn.New(dir)

	require.NoError(t, sess.Multi())
	assert.Equal(t, txn.StateInMulti, sess.State())

	require.NoError(t, sess.QueueCommand(txn.QueuedCommand{
		Name: "SET",
		Run: func(ctx context.Context, tx storage.Tx) (any, error) {
			_, err := str.Set(ctx, tx, 0, []byte("k"), []byte("v"), strings.SetOpts{})
			return nil, err
		},
	}))

	results, conflict, err := sess.Exec(ctx, store)
	require.NoError(t, err)
	assert.False(t, conflict)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, txn.StateNormal, sess.State())

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := str.Get(ctx, tx, 0, []byte("k"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", string(val))
		return nil
	})
	require.NoError(t, err)
}

func TestDirtyMultiAbortsExec(t *testing.T) {
	_, dir, _ := newFixture(t)
	sess := txn.New(dir)

	require.NoError(t, sess.Multi())
	sess.MarkDirty()
	assert.Equal(t, txn.StateDirtyMulti, sess.State())

	_, _, err := sess.Exec(context.Background(), nil)
	assert.ErrorIs(t, err, engine.ErrExecAbort)
	assert.Equal(t, txn.StateNormal, sess.State(), "EXEC always resets state even on abort")
}

func TestWatchConflictYieldsNullReply(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()
	sess := txn.New(dir)

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := str.Set(ctx, tx, 0, []byte("bal"), []byte("100"), strings.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return sess.Watch(ctx, tx, 0, [][]byte{[]byte("bal")})
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := str.Set(ctx, tx, 0, []byte("bal"), []byte("50"), strings.SetOpts{})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, sess.Multi())
	require.NoError(t, sess.QueueCommand(txn.QueuedCommand{
		Name: "DECRBY",
		Run: func(ctx context.Context, tx storage.Tx) (any, error) {
			return str.IncrBy(ctx, tx, 0, []byte("bal"), -10)
		},
	}))

	results, conflict, err := sess.Exec(ctx, store)
	require.NoError(t, err)
	assert.True(t, conflict)
	assert.Nil(t, results)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := str.Get(ctx, tx, 0, []byte("bal"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "50", string(val), "watch conflict must discard the queued decrement")
		return nil
	})
	require.NoError(t, err)
}

func TestDiscardClearsQueueAndWatches(t *testing.T) {
	_, dir, _ := newFixture(t)
	sess := txn.New(dir)

	require.NoError(t, sess.Multi())
	require.NoError(t, sess.QueueCommand(txn.QueuedCommand{Name: "PING"}))
	require.NoError(t, sess.Discard())
	assert.Equal(t, txn.StateNormal, sess.State())

	_, _, err := sess.Exec(context.Background(), nil)
	assert.ErrorIs(t, err, txn.ErrExecWithoutMulti)
}

func TestMultiNestedRejected(t *testing.T) {
	_, dir, _ := newFixture(t)
	sess := txn.New(dir)

	require.NoError(t, sess.Multi())
	assert.ErrorIs(t, sess.Multi(), txn.ErrMultiNested)
}
