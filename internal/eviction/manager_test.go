package eviction_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/eviction"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
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

func alwaysFullAfter(calls *int, satisfiedAfter int) func(context.Context) (bool, error) {
	return func(context.Context) (bool, error) {
		*calls++
		return *calls > satisfiedAfter, nil
	}
}

func TestNoEvictionReturnsOOM(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := str.Set(ctx, tx, 0, []byte("k"), []byte("v"), strings.SetOpts{})
		return err
	}))

	mgr, err := eviction.New(eviction.PolicyNoEviction, nil)
	require.NoError(t, err)

	calls := 0
	err = mgr.EnsureCapacity(ctx, store, dir, 1, alwaysFullAfter(&calls, 1000))
	assert.ErrorIs(t, err, engine.ErrOOM)
}

func TestAllKeysLRUEvictsOldestTouched(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()

	var idA, idB engine.KeyID
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := str.Set(ctx, tx, 0, []byte("a"), []byte("v"), strings.SetOpts{}); err != nil {
			return err
		}
		recA, err := dir.Resolve(ctx, tx, 0, []byte("a"))
		if err != nil {
			return err
		}
		idA = recA.KeyID
		if _, err := str.Set(ctx, tx, 0, []byte("b"), []byte("v"), strings.SetOpts{}); err != nil {
			return err
		}
		recB, err := dir.Resolve(ctx, tx, 0, []byte("b"))
		if err != nil {
			return err
		}
		idB = recB.KeyID
		return nil
	}))

	// Touch b after a so a is the least-recently-used of the two tracked keys.
	mgr, err := eviction.New(eviction.PolicyAllKeysLRU, nil)
	require.NoError(t, err)
	mgr.Touch(idA, 0)
	mgr.Touch(idB, 0)

	calls := 0
	err = mgr.EnsureCapacity(ctx, store, dir, 1, alwaysFullAfter(&calls, 1))
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		_, ok, err := str.Get(ctx, tx, 0, []byte("a"))
		require.NoError(t, err)
		assert.False(t, ok, "a is the least recently touched, should be evicted first")
		_, ok, err = str.Get(ctx, tx, 0, []byte("b"))
		require.NoError(t, err)
		assert.True(t, ok, "b was touched more recently, should survive")
		return nil
	})
	require.NoError(t, err)
}

func TestVolatileTTLPrefersNearestExpiry(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()

	far := int64(9999999999999)
	near := int64(8888888888888)
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := str.Set(ctx, tx, 0, []byte("far"), []byte("v"), strings.SetOpts{ExpireAtMs: &far}); err != nil {
			return err
		}
		_, err := str.Set(ctx, tx, 0, []byte("near"), []byte("v"), strings.SetOpts{ExpireAtMs: &near})
		return err
	}))

	mgr, err := eviction.New(eviction.PolicyVolatileTTL, nil)
	require.NoError(t, err)

	calls := 0
	err = mgr.EnsureCapacity(ctx, store, dir, 1, alwaysFullAfter(&calls, 1))
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		_, ok, err := str.Get(ctx, tx, 0, []byte("near"))
		require.NoError(t, err)
		assert.False(t, ok, "the key expiring sooner should be evicted first")
		_, ok, err = str.Get(ctx, tx, 0, []byte("far"))
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestDecayFrequencyDoesNotPanic(t *testing.T) {
	mgr, err := eviction.New(eviction.PolicyAllKeysLFU, nil)
	require.NoError(t, err)
	mgr.Touch(1, 0)
	mgr.Touch(1, 0)
	mgr.Touch(1, 0)
	mgr.DecayFrequency()
	mgr.Forget(1)
}

func TestParsePolicyRejectsUnknown(t *testing.T) {
	_, err := eviction.ParsePolicy("bogus")
	assert.Error(t, err)

	p, err := eviction.ParsePolicy("volatile-random")
	require.NoError(t, err)
	assert.True(t, p.VolatileOnly())

	p, err = eviction.ParsePolicy("allkeys-random")
	require.NoError(t, err)
	assert.False(t, p.VolatileOnly())
}
