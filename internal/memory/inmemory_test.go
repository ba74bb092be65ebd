package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, "k1", "hello world", map[string]interface{}{"tag": "greeting"}))

	got, err := b.Retrieve(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello world", got.Value)
	assert.Equal(t, "greeting", got.Metadata["tag"])
}

func TestRetrieveMissingKeyReturnsNilNotError(t *testing.T) {
	b := NewInMemory("test")
	got, err := b.Retrieve(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	b := NewInMemory("test")
	err := b.Store(context.Background(), "", "v", nil)
	assert.Error(t, err)
}

func TestDeleteReportsWhetherKeyExisted(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, "k1", "v", nil))

	existed, err := b.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = b.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSearchRanksByTokenOverlap(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, "a", "the quick brown dog", nil))
	require.NoError(t, b.Store(ctx, "b", "a slow green turtle", nil))
	require.NoError(t, b.Store(ctx, "c", "quick fox jumps", nil))

	matches, err := b.Search(ctx, "quick fox", SearchOptions{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(matches), 2)
	assert.Equal(t, "c", matches[0].Key)
}

func TestSearchRespectsLimitAndMinScore(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Store(ctx, k, "alpha beta gamma", nil))
	}
	require.NoError(t, b.Store(ctx, "d", "nothing related", nil))

	matches, err := b.Search(ctx, "alpha beta", SearchOptions{Limit: 2, MinScore: 0.5})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.5)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, "a", "v", nil))
	require.NoError(t, b.Clear(ctx))

	stats, err := b.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EntryCount)
}

func TestGetStatsTracksCountAndLastWrite(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, "a", "v", nil))
	require.NoError(t, b.Store(ctx, "b", "v", nil))

	stats, err := b.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntryCount)
	assert.False(t, stats.LastWrite.IsZero())
}

func TestInitializeAndShutdownAreIdempotentNoOps(t *testing.T) {
	b := NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Shutdown(ctx))
	require.NoError(t, b.Shutdown(ctx))
}

func TestNameDefaultsWhenEmpty(t *testing.T) {
	b := NewInMemory("")
	assert.Equal(t, "memory", b.Name())
}
