package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVectorStore_TenantIsolation(t *testing.T) {
	store := NewMemoryVectorStore(newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, store.AddPassages(ctx, []Passage{
		{Text: "blue sky over the sea", Metadata: map[string]interface{}{MetaEchoID: "E1"}},
		{Text: "blue sky over the sea", Metadata: map[string]interface{}{MetaEchoID: "E2"}},
		{Text: "green grass", Metadata: map[string]interface{}{MetaEchoID: "E1"}},
	}))

	passages, err := store.SimilaritySearch(ctx, bagOfWords("blue sky"), 10, TenantFilter{EchoID: "E1"})
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.GreaterOrEqual(t, passages[0].Score, passages[1].Score)
	for _, p := range passages {
		assert.Equal(t, "E1", p.EchoID())
	}

	_, err = store.SimilaritySearch(ctx, bagOfWords("blue"), 10, TenantFilter{})
	assert.ErrorIs(t, err, ErrMissingTenantFilter)
}

func TestMemoryVectorStore_DeleteByPredicate(t *testing.T) {
	store := NewMemoryVectorStore(newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, store.AddPassages(ctx, []Passage{
		{Text: "a", Metadata: map[string]interface{}{MetaEchoID: "X", MetaKnowledgeID: int64(42)}},
		{Text: "b", Metadata: map[string]interface{}{MetaEchoID: "X", MetaKnowledgeID: int64(42)}},
		{Text: "c", Metadata: map[string]interface{}{MetaEchoID: "Y", MetaKnowledgeID: int64(42)}},
		{Text: "d", Metadata: map[string]interface{}{MetaEchoID: "X", MetaKnowledgeID: int64(43)}},
		{Text: "e", Metadata: map[string]interface{}{MetaEchoID: "X"}},
	}))

	deleted, err := store.DeleteByPredicate(ctx, DeletePredicate{KnowledgeIDs: []int64{42}, EchoID: "X"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 3, store.Count())

	deleted, err = store.DeleteByPredicate(ctx, DeletePredicate{KnowledgeIDs: []int64{42, 43}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 1, store.Count())

	deleted, err = store.DeleteByPredicate(ctx, DeletePredicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
