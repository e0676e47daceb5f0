package history_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/types/strings"
)

func newFixture(t *testing.T) (storage.PageStore, *keydir.Directory, *strings.Engine, engine.KeyID) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	dir := keydir.New()
	str := strings.New(dir)

	var keyID engine.KeyID
	require.NoError(t, store.WithTx(context.Background(), func(tx storage.Tx) error {
		_, err := str.Set(context.Background(), tx, 0, []byte("k"), []byte("v1"), strings.SetOpts{})
		if err != nil {
			return err
		}
		rec, err := dir.Resolve(context.Background(), tx, 0, []byte("k"))
		if err != nil {
			return err
		}
		keyID = rec.KeyID
		return nil
	}))
	return store, dir, str, keyID
}

func TestDisabledPolicyRecordsNothing(t *testing.T) {
	store, _, _, keyID := newFixture(t)
	ctx := context.Background()

	trk, err := history.New(history.NoneRetention(), nil)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		return trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte("v1"))
	}))

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		versions, err := trk.Versions(ctx, tx, keyID)
		require.NoError(t, err)
		assert.Empty(t, versions)
		return nil
	})
	require.NoError(t, err)
}

func TestRecordAndGetAt(t *testing.T) {
	store, _, _, keyID := newFixture(t)
	ctx := context.Background()

	trk, err := history.New(history.CountRetention(10), nil)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		if err := trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte("v1")); err != nil {
			return err
		}
		return trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte("v2"))
	}))

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		versions, err := trk.Versions(ctx, tx, keyID)
		require.NoError(t, err)
		require.Len(t, versions, 2)

		e, ok, err := trk.GetAt(ctx, tx, keyID, versions[1].AtMs)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v2"), e.Snapshot)

		_, ok, err = trk.GetAt(ctx, tx, keyID, versions[0].AtMs-1)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestCountRetentionDropsOldest(t *testing.T) {
	store, _, _, keyID := newFixture(t)
	ctx := context.Background()

	trk, err := history.New(history.CountRetention(2), nil)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		for i := 0; i < 5; i++ {
			if err := trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	}))

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		versions, err := trk.Versions(ctx, tx, keyID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
		assert.Equal(t, []byte{3}, versions[0].Snapshot)
		assert.Equal(t, []byte{4}, versions[1].Snapshot)
		return nil
	})
	require.NoError(t, err)
}

func TestPerKeyPolicyOverridesGlobal(t *testing.T) {
	store, _, _, keyID := newFixture(t)
	ctx := context.Background()

	trk, err := history.New(history.NoneRetention(), nil)
	require.NoError(t, err)
	trk.SetKeyPolicy(keyID, history.CountRetention(5))

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		return trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte("v1"))
	}))

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		versions, err := trk.Versions(ctx, tx, keyID)
		require.NoError(t, err)
		assert.Len(t, versions, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestPruneDropsOldRowsGlobally(t *testing.T) {
	store, _, _, keyID := newFixture(t)
	ctx := context.Background()

	trk, err := history.New(history.CountRetention(10), nil)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		return trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte("v1"))
	}))

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := trk.Prune(ctx, tx, engine.NowMs()+1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		versions, err := trk.Versions(ctx, tx, keyID)
		require.NoError(t, err)
		assert.Empty(t, versions)
		return nil
	})
	require.NoError(t, err)
}

func TestHistorySurvivesKeyDeletion(t *testing.T) {
	store, dir, _, keyID := newFixture(t)
	ctx := context.Background()

	trk, err := history.New(history.CountRetention(10), nil)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		return trk.Record(ctx, tx, keyID, 0, "SET", engine.KindString, []byte("v1"))
	}))

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		return dir.Delete(ctx, tx, keyID)
	}))

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		versions, err := trk.Versions(ctx, tx, keyID)
		require.NoError(t, err)
		assert.Len(t, versions, 1, "history outlives the key it describes until pruned")
		return nil
	})
	require.NoError(t, err)
}
