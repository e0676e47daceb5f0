package zsets_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/types/zsets"
)

func newFixture(t *testing.T) (storage.PageStore, *zsets.Engine) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, zsets.New(keydir.New())
}

func TestZAddAndRangeOrdering(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, _, _, err := eng.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{
			{Value: []byte("a"), Score: 1},
			{Value: []byte("b"), Score: 1},
			{Value: []byte("c"), Score: 2},
		}, zsets.AddOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		members, err := eng.ZRange(ctx, tx, 0, []byte("z"), 0, -1, false)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "a", string(members[0].Value))
		assert.Equal(t, "b", string(members[1].Value))
		assert.Equal(t, "c", string(members[2].Value))
		return nil
	})
	require.NoError(t, err)
}

func TestZRankMatchesRange(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, _, _, err := eng.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{
			{Value: []byte("a"), Score: 1},
			{Value: []byte("b"), Score: 2},
		}, zsets.AddOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		rank, ok, err := eng.ZRank(ctx, tx, 0, []byte("z"), []byte("b"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), rank)
		return nil
	})
	require.NoError(t, err)
}

func TestZAddGTLT(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, _, _, err := eng.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{{Value: []byte("a"), Score: 5}}, zsets.AddOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, _, _, err := eng.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{{Value: []byte("a"), Score: 3}}, zsets.AddOpts{GT: true})
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		score, ok, err := eng.ZScore(ctx, tx, 0, []byte("z"), []byte("a"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 5.0, score, "GT should reject a lower score")
		return nil
	})
	require.NoError(t, err)
}

func TestZRangeByScoreExclusive(t *testing.T) {
	store, eng := newFixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		_, _, _, err := eng.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{
			{Value: []byte("a"), Score: 1},
			{Value: []byte("b"), Score: 1},
			{Value: []byte("c"), Score: 2},
		}, zsets.AddOpts{})
		return err
	})
	require.NoError(t, err)

	err = store.WithROTx(ctx, func(tx storage.Tx) error {
		members, err := eng.ZRangeByScore(ctx, tx, 0, []byte("z"), zsets.ScoreRange{Min: 1, MinExcl: true, Max: math.Inf(1)})
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "c", string(members[0].Value))
		return nil
	})
	require.NoError(t, err)
}
