package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestMockProvider_Deterministic(t *testing.T) {
	m := &MockProvider{}
	ctx := context.Background()

	a, err := m.EmbedQuery(ctx, "we use PostgreSQL for our database")
	require.NoError(t, err)
	b, err := m.EmbedQuery(ctx, "we use PostgreSQL for our database")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-6, "identical text must have similarity 1")
}

func TestMockProvider_SharedVocabularyIsSimilar(t *testing.T) {
	m := &MockProvider{}
	ctx := context.Background()

	doc, err := m.EmbedQuery(ctx, "my company is EvalCorp, we build AI products")
	require.NoError(t, err)
	query, err := m.EmbedQuery(ctx, "what is my company name?")
	require.NoError(t, err)
	unrelated, err := m.EmbedQuery(ctx, "ticker interval jitter backoff")
	require.NoError(t, err)

	assert.Greater(t, cosine(doc, query), 0.2, "overlapping vocabulary should clear the directory threshold")
	assert.Less(t, cosine(doc, unrelated), 0.2)
}

func TestMockProvider_EmptyText(t *testing.T) {
	m := &MockProvider{}
	_, err := m.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestMockProvider_BatchAlignment(t *testing.T) {
	m := &MockProvider{Dim: 64}
	vecs, err := m.EmbedDocuments(context.Background(), []string{"alpha beta", "gamma delta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 64)
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestNewOpenAIProvider_RequiresModel(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{}, nil)
	assert.Error(t, err)
}
