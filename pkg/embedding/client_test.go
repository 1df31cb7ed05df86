package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"docchat-go/internal/config"
	"docchat-go/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithHTTP(config.EmbeddingConfig{
		BaseURL: srv.URL,
		Model:   "test-embed",
		APIKey:  "secret",
	}, srv.Client())
}

func TestEmbedReturnsVector(t *testing.T) {
	var got embeddingRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := client.Embed(context.Background(), "line one\nline two\r\nline three")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	assert.Equal(t, "test-embed", got.Model)
	require.Len(t, got.Input, 1)
	assert.Equal(t, "line one line two line three", got.Input[0])
}

func TestEmbedMalformedResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"missing vector field", http.StatusOK, `{"data":[{"index":0}]}`},
		{"empty data", http.StatusOK, `{"data":[]}`},
		{"no data key", http.StatusOK, `{"object":"list"}`},
		{"not json", http.StatusOK, `<html>`},
		{"upstream error", http.StatusInternalServerError, `{"error":"overloaded"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			vec, err := client.Embed(context.Background(), "hello")
			assert.Nil(t, vec)
			assert.ErrorIs(t, err, apperr.ErrEmbedding)
		})
	}
}

func TestEmbedUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(config.EmbeddingConfig{BaseURL: url})
	_, err := client.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, apperr.ErrEmbedding)
}
