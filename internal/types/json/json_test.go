package json_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	jsontype "github.com/redlite/redlite/internal/types/json"
)

func newFixture(t *testing.T) (storage.PageStore, *jsontype.Engine) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, jsontype.New(keydir.New())
}

func TestSetAndGetRoot(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Set(ctx, tx, 0, []byte("doc"), "$", []byte(`{"a":1,"b":{"c":2}}`))
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := eng.Get(ctx, tx, 0, []byte("doc"), "$.b.c")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, "2", string(val))
		return nil
	})
	require.NoError(t, err)
}

func TestSetNestedFieldCreatesPath(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Set(ctx, tx, 0, []byte("doc"), "$", []byte(`{}`))
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Set(ctx, tx, 0, []byte("doc"), "$.items[0]", []byte(`"x"`))
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := eng.Get(ctx, tx, 0, []byte("doc"), "$.items[0]")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `"x"`, string(val))
		return nil
	})
	require.NoError(t, err)
}

func TestMergeAppliesRFC7396(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Set(ctx, tx, 0, []byte("doc"), "$", []byte(`{"a":1,"b":2}`))
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Merge(ctx, tx, 0, []byte("doc"), "$", []byte(`{"b":null,"c":3}`))
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := eng.Get(ctx, tx, 0, []byte("doc"), "$")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"a":1,"c":3}`, string(val))
		return nil
	})
	require.NoError(t, err)
}

func TestArrAppendGrowsArray(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Set(ctx, tx, 0, []byte("doc"), "$", []byte(`{"items":[1,2]}`))
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := eng.ArrAppend(ctx, tx, 0, []byte("doc"), "$.items", [][]byte{[]byte("3")})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := eng.Get(ctx, tx, 0, []byte("doc"), "$.items")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `[1,2,3]`, string(val))
		return nil
	})
	require.NoError(t, err)
}

func TestDelRemovesField(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return eng.Set(ctx, tx, 0, []byte("doc"), "$", []byte(`{"a":1,"b":2}`))
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		removed, err := eng.Del(ctx, tx, 0, []byte("doc"), "$.a")
		require.NoError(t, err)
		assert.True(t, removed)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		val, ok, err := eng.Get(ctx, tx, 0, []byte("doc"), "$")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"b":2}`, string(val))
		return nil
	})
	require.NoError(t, err)
}
