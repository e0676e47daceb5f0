package vacuum_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/types/strings"
	"github.com/redlite/redlite/internal/vacuum"
)

func newFixture(t *testing.T) (storage.PageStore, *keydir.Directory, *strings.Engine) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	dir := keydir.New()
	return store, dir, strings.New(dir)
}

func TestSweepOnceDeletesExpiredKeys(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()

	past := int64(1)
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := str.Set(ctx, tx, 0, []byte("gone"), []byte("v"), strings.SetOpts{ExpireAtMs: &past})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := str.Set(ctx, tx, 0, []byte("alive"), []byte("v"), strings.SetOpts{})
		return err
	})
	require.NoError(t, err)

	sw := vacuum.New(store, dir, 1, time.Hour, false, nil)
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		_, ok, err := str.Get(ctx, tx, 0, []byte("gone"))
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = str.Get(ctx, tx, 0, []byte("alive"))
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestVacuumCompactsAndReturnsCount(t *testing.T) {
	store, dir, str := newFixture(t)
	ctx := context.Background()

	past := int64(1)
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := str.Set(ctx, tx, 0, []byte("gone"), []byte("v"), strings.SetOpts{ExpireAtMs: &past})
		return err
	})
	require.NoError(t, err)

	sw := vacuum.New(store, dir, 1, time.Hour, false, nil)
	n, err := sw.Vacuum(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentSweepsDoNotDoubleRun(t *testing.T) {
	store, dir, _ := newFixture(t)
	sw := vacuum.New(store, dir, 1, time.Hour, false, nil)

	done := make(chan int, 2)
	go func() {
		n, _ := sw.SweepOnce(context.Background())
		done <- n
	}()
	n2, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	n1 := <-done
	assert.Equal(t, 0, n1+n2, "an empty store has nothing to sweep either way")
}
