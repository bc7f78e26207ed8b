package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/domain"
)

// wordEmbedder maps text onto a fixed vocabulary so that cosine similarity
// tracks word overlap.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

var vocab = []string{"weather", "forecast", "rain", "deploy", "kubernetes", "cluster", "billing", "invoice"}

func (w *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	w.mu.Lock()
	w.calls++
	fail := w.fail
	w.mu.Unlock()
	if fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab))
		lower := strings.ToLower(t)
		for j, word := range vocab {
			v[j] = float32(strings.Count(lower, word))
		}
		out[i] = v
	}
	return out, nil
}

func (w *wordEmbedder) Dimensions() int { return len(vocab) }
func (w *wordEmbedder) Name() string    { return "words" }

func newTestStore(t *testing.T, embedder domain.EmbeddingProvider, opts Options) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "vectors.db"), embedder, slog.Default(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t, nil, Options{})
	ctx := context.Background()

	err := s.Upsert(ctx, []domain.Document{{
		ID:       "confluence_1",
		Title:    "Deploy guide",
		Content:  "How to deploy to the kubernetes cluster",
		URL:      "https://wiki/x",
		Source:   domain.SourceConfluence,
		Version:  3,
		Metadata: map[string]string{"space": "CONF"},
	}})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "confluence_1")
	require.NoError(t, err)
	assert.Equal(t, "Deploy guide", doc.Title)
	assert.Equal(t, 3, doc.Version)
	assert.Equal(t, "CONF", doc.Metadata["space"])
	assert.False(t, doc.UpdatedAt.IsZero())
}

func TestUpsertAssignsID(t *testing.T) {
	s := newTestStore(t, nil, Options{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.Document{{Content: "anonymous note about billing"}}))
	hits, err := s.Search(ctx, "billing", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.NotEmpty(t, hits[0].ID)
}

func TestUpsertReplaces(t *testing.T) {
	s := newTestStore(t, nil, Options{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.Document{{ID: "d1", Content: "version one"}}))
	require.NoError(t, s.Update(ctx, domain.Document{ID: "d1", Content: "version two", Version: 2}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "version two", doc.Content)

	hits, err := s.Search(ctx, "one", 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "FTS index must follow updates")
}

func TestUpdateRequiresID(t *testing.T) {
	s := newTestStore(t, nil, Options{})
	err := s.Update(context.Background(), domain.Document{Content: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpsertBatches(t *testing.T) {
	emb := &wordEmbedder{}
	s := newTestStore(t, emb, Options{BatchSize: 10})
	ctx := context.Background()

	docs := make([]domain.Document, 25)
	for i := range docs {
		docs[i] = domain.Document{ID: fmt.Sprintf("d%02d", i), Content: "weather report"}
	}
	require.NoError(t, s.Upsert(ctx, docs))

	assert.Equal(t, 3, emb.calls, "one embedding call per batch")
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestUpsertStoresWithoutVectorsWhenEmbeddingFails(t *testing.T) {
	emb := &wordEmbedder{fail: true}
	s := newTestStore(t, emb, Options{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.Document{{ID: "d1", Content: "rain forecast"}}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, &wordEmbedder{}, Options{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.Document{
		{ID: "a", Content: "weather"},
		{ID: "b", Content: "billing"},
		{ID: "c", Content: "deploy"},
	}))
	_, err := s.Search(ctx, "weather", 5) // loads the vector index
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, []string{"a", "b", "missing"}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.vecIdx.size())

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeDocumentNotFound, domain.ErrorCodeOf(err))

	assert.NoError(t, s.Delete(ctx, nil))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.db")
	ctx := context.Background()

	s1, err := New(path, nil, slog.Default(), Options{})
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(ctx, []domain.Document{{ID: "x", Content: "persisted"}}))
	require.NoError(t, s1.Close())

	s2, err := New(path, nil, slog.Default(), Options{})
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
