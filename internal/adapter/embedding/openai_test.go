package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

func TestOpenAIEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Input, 2)
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 3, req.Dimensions)

		_ = json.NewEncoder(w).Encode(openaiEmbedResponse{
			Data: []openaiEmbedData{
				{Index: 1, Embedding: []float32{0.4, 0.5, 0.6}},
				{Index: 0, Embedding: []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{APIKey: "test-key", BaseURL: server.URL, Dimensions: 3})
	vecs, err := p.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.1), vecs[0][0], "results are ordered by index")
	assert.Equal(t, float32(0.4), vecs[1][0])
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	p := NewOpenAIProvider(config.EmbeddingConfig{})
	vecs, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOpenAIEmbedAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: server.URL})
	_, err := p.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: server.URL})
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
}

func TestOpenAIDefaults(t *testing.T) {
	p := NewOpenAIProvider(config.EmbeddingConfig{})
	assert.Equal(t, 1536, p.Dimensions())
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "https://api.openai.com/v1", p.baseURL)
}

func TestNewDisabled(t *testing.T) {
	p, err := New(config.EmbeddingConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = New(config.EmbeddingConfig{Provider: "gemini"})
	assert.Error(t, err)
}
