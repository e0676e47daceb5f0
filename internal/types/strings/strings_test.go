package strings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	strs "github.com/redlite/redlite/internal/types/strings"
)

func newFixture(t *testing.T) (storage.PageStore, *strs.Engine) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, strs.New(keydir.New())
}

func TestSetGetRoundTrip(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.Set(ctx, tx, 0, []byte("foo"), []byte("bar"), strs.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		v, ok, err := eng.Get(ctx, tx, 0, []byte("foo"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "bar", string(v))
		return nil
	})
	require.NoError(t, err)
}

func TestSetNXFailsWhenPresent(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.Set(ctx, tx, 0, []byte("foo"), []byte("bar"), strs.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		ok, err := eng.Set(ctx, tx, 0, []byte("foo"), []byte("baz"), strs.SetOpts{NX: true})
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestIncrByAndNotInt(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.Set(ctx, tx, 0, []byte("c"), []byte("10"), strs.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := eng.IncrBy(ctx, tx, 0, []byte("c"), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(11), n)
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.Set(ctx, tx, 0, []byte("nc"), []byte("nope"), strs.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.IncrBy(ctx, tx, 0, []byte("nc"), 1)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrNotInt)
}

func TestAppendAndStrlen(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.Set(ctx, tx, 0, []byte("foo"), []byte("bar"), strs.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := eng.Append(ctx, tx, 0, []byte("foo"), []byte("baz"))
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		n, err := eng.Strlen(ctx, tx, 0, []byte("foo"))
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)
		return nil
	})
	require.NoError(t, err)
}

func TestGetRangeClamping(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := eng.Set(ctx, tx, 0, []byte("foo"), []byte("hello world"), strs.SetOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		v, err := eng.GetRange(ctx, tx, 0, []byte("foo"), -5, -1)
		require.NoError(t, err)
		assert.Equal(t, "world", string(v))
		return nil
	})
	require.NoError(t, err)
}

func TestBitOpsRoundTrip(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		prev, err := eng.SetBit(ctx, tx, 0, []byte("b"), 7, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, prev)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		v, err := eng.GetBit(ctx, tx, 0, []byte("b"), 7)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		n, err := eng.BitCount(ctx, tx, 0, []byte("b"), 0, -1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}
