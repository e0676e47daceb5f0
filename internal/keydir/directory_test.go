package keydir_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
)

func newTestStore(t *testing.T) storage.PageStore {
	t.Helper()
	ctx := context.Background()
	path := t.TempDir() + "/test.db"
	store, err := sqlite.Open(ctx, path, 0)
	require.NoError(t, err, "opening test store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndResolve(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	var keyID engine.KeyID
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		id, err := dir.Create(ctx, tx, 0, []byte("foo"), engine.KindString)
		keyID = id
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, keyID)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		rec, err := dir.Resolve(ctx, tx, 0, []byte("foo"))
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, keyID, rec.KeyID)
		assert.Equal(t, engine.KindString, rec.Kind)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateWrongType(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := dir.Create(ctx, tx, 0, []byte("foo"), engine.KindString)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := dir.Create(ctx, tx, 0, []byte("foo"), engine.KindList)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrWrongType)
}

func TestResolveExpiresLazily(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	var keyID engine.KeyID
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		id, err := dir.Create(ctx, tx, 0, []byte("foo"), engine.KindString)
		if err != nil {
			return err
		}
		keyID = id
		past := engine.NowMs() - 1000
		return dir.SetTTL(ctx, tx, id, &past)
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		rec, err := dir.Resolve(ctx, tx, 0, []byte("foo"))
		require.NoError(t, err)
		assert.Nil(t, rec, "expired key should resolve to nil")
		return nil
	})
	require.NoError(t, err)

	revAfter := dir.Watch().Revision(keyID)
	assert.Positive(t, revAfter, "lazy expiry should bump the watch revision")
}

func TestDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	var keyID engine.KeyID
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		id, err := dir.Create(ctx, tx, 0, []byte("h"), engine.KindHash)
		if err != nil {
			return err
		}
		keyID = id
		_, err = tx.Exec(ctx, `INSERT INTO hash_fields (key_id, field, value) VALUES (?, ?, ?)`, int64(id), []byte("f1"), []byte("v1"))
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return dir.Delete(ctx, tx, keyID)
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		rec, err := dir.Resolve(ctx, tx, 0, []byte("h"))
		require.NoError(t, err)
		assert.Nil(t, rec)

		var n int
		scanErr := tx.QueryRow(ctx, `SELECT COUNT(*) FROM hash_fields WHERE key_id = ?`, int64(keyID)).Scan(&n)
		require.NoError(t, scanErr)
		assert.Zero(t, n, "hash_fields should cascade-delete")
		return nil
	})
	require.NoError(t, err)
}

func TestKeysPatternMatch(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	names := []string{"user:1", "user:2", "order:1"}
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		for _, n := range names {
			if _, err := dir.Create(ctx, tx, 0, []byte(n), engine.KindString); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	matched, err := dir.Keys(ctx, store, 0, "user:*")
	require.NoError(t, err)
	assert.Len(t, matched, 2)
}

func TestScanPaginates(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		for i := 0; i < 25; i++ {
			if _, err := dir.Create(ctx, tx, 0, []byte{'k', byte('a' + i)}, engine.KindString); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var all [][]byte
	cursor := keydir.ScanCursor(0)
	for {
		res, err := dir.Scan(ctx, store, 0, cursor, "*", 10)
		require.NoError(t, err)
		all = append(all, res.Keys...)
		cursor = res.Next
		if cursor == 0 {
			break
		}
	}
	assert.Len(t, all, 25)
}

func TestFlushDB(t *testing.T) {
	store := newTestStore(t)
	dir := keydir.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := dir.Create(ctx, tx, 0, []byte("a"), engine.KindString)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := dir.FlushDB(ctx, tx, 0)
		assert.Equal(t, 1, n)
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		size, err := dir.DBSize(ctx, tx, 0)
		require.NoError(t, err)
		assert.Zero(t, size)
		return nil
	})
	require.NoError(t, err)
}
