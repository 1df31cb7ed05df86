package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"docchat-go/internal/config"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveFiltersByThreshold(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	ns := vectorindex.Namespace("doc-1")
	require.NoError(t, idx.Upsert(ctx, ns, []vectorindex.Vector{
		{ID: "low", Values: []float32{0.6, 0.8}, Metadata: vectorindex.Metadata{Text: "low match", Page: 1}},
		{ID: "best", Values: []float32{1, 0}, Metadata: vectorindex.Metadata{Text: "best match", Page: 2}},
		{ID: "good", Values: []float32{0.8, 0.6}, Metadata: vectorindex.Metadata{Text: "good match", Page: 3}},
	}))

	r := NewRetriever(mapEmbedder{"refund?": {1, 0}}, idx, config.DefaultRAG())
	got, err := r.Retrieve(ctx, "refund?", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "best match\ngood match", got)
}

func TestRetrieveNoQualifyingMatches(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	ns := vectorindex.Namespace("doc-1")
	require.NoError(t, idx.Upsert(ctx, ns, []vectorindex.Vector{
		{ID: "a", Values: []float32{0, 1}, Metadata: vectorindex.Metadata{Text: "unrelated"}},
	}))

	r := NewRetriever(mapEmbedder{"q": {1, 0}}, idx, config.DefaultRAG())
	got, err := r.Retrieve(ctx, "q", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRetrieveEmptyNamespace(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	require.NoError(t, idx.EnsureNamespace(ctx, vectorindex.Namespace("doc-empty")))

	r := NewRetriever(mapEmbedder{"What is the refund policy?": {1, 0}}, idx, config.DefaultRAG())
	got, err := r.Retrieve(ctx, "What is the refund policy?", "doc-empty")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRetrieveMissingNamespace(t *testing.T) {
	r := NewRetriever(mapEmbedder{"q": {1, 0}}, vectorindex.NewMemory(), config.DefaultRAG())
	_, err := r.Retrieve(context.Background(), "q", "never-ingested")
	assert.ErrorIs(t, err, apperr.ErrRetrieval)
	assert.ErrorIs(t, err, vectorindex.ErrNamespaceNotFound)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	r := NewRetriever(mapEmbedder{}, vectorindex.NewMemory(), config.DefaultRAG())
	_, err := r.Retrieve(context.Background(), "q", "doc")
	assert.ErrorIs(t, err, apperr.ErrEmbedding)
}

func TestRetrieveRespectsTopK(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	ns := vectorindex.Namespace("doc")
	var vectors []vectorindex.Vector
	for i := 0; i < 8; i++ {
		vectors = append(vectors, vectorindex.Vector{ID: string(rune('a' + i)), Values: []float32{1, 0}, Metadata: vectorindex.Metadata{Text: "t"}})
	}
	require.NoError(t, idx.Upsert(ctx, ns, vectors))

	r := NewRetriever(mapEmbedder{"q": {1, 0}}, idx, config.DefaultRAG())
	got, err := r.Retrieve(ctx, "q", "doc")
	require.NoError(t, err)
	assert.Equal(t, "t\nt\nt\nt\nt", got)
}

func TestAssembleContext(t *testing.T) {
	m := func(score float64, text string) vectorindex.Match {
		return vectorindex.Match{Score: score, Metadata: vectorindex.Metadata{Text: text}}
	}

	tests := []struct {
		name    string
		matches []vectorindex.Match
		want    string
	}{
		{"none", nil, ""},
		{"threshold is exclusive", []vectorindex.Match{m(0.7, "edge")}, ""},
		{"all below", []vectorindex.Match{m(0.69, "a"), m(0.1, "b")}, ""},
		{"keeps index order", []vectorindex.Match{m(0.95, "first"), m(0.9, "second"), m(0.5, "third")}, "first\nsecond"},
		{"counts characters not bytes", []vectorindex.Match{m(0.9, "界界界界界")}, "界界界"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxChars := 3000
			if strings.Contains(tt.name, "characters") {
				maxChars = 3
			}
			assert.Equal(t, tt.want, AssembleContext(tt.matches, 0.7, maxChars))
		})
	}
}

func TestAssembleContextBound(t *testing.T) {
	var matches []vectorindex.Match
	for i := 0; i < 5; i++ {
		matches = append(matches, vectorindex.Match{Score: 0.9, Metadata: vectorindex.Metadata{Text: strings.Repeat("é", 1000)}})
	}
	got := AssembleContext(matches, 0.7, 3000)
	assert.Equal(t, 3000, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}
