package vectorstore

import (
	"context"
	"sort"
	"sync"

	"askverse/internal/domain"
)

// vecIndex is an in-memory copy of the stored embeddings. It is loaded from
// sqlite on the first vector search and kept current by writes.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string]vecEntry
	loaded  bool
}

type vecEntry struct {
	doc       domain.Document
	embedding []float32
}

func newVecIndex() *vecIndex {
	return &vecIndex{entries: make(map[string]vecEntry)}
}

// search returns documents with positive cosine similarity, best first.
func (idx *vecIndex) search(queryVec []float32, limit int) []domain.ScoredDocument {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]domain.ScoredDocument, 0, len(idx.entries))
	for _, ve := range idx.entries {
		sim := cosineSimilarity(queryVec, ve.embedding)
		if sim <= 0 {
			continue
		}
		hits = append(hits, domain.ScoredDocument{Document: ve.doc, Relevance: float64(sim)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Relevance == hits[j].Relevance {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Relevance > hits[j].Relevance
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *vecIndex) put(doc domain.Document, embedding []float32) {
	if embedding == nil {
		return
	}
	idx.mu.Lock()
	idx.entries[doc.ID] = vecEntry{doc: doc, embedding: embedding}
	idx.mu.Unlock()
}

func (idx *vecIndex) remove(id string) {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
}

func (idx *vecIndex) isLoaded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loaded
}

func (idx *vecIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// load populates the index from the database. Subsequent calls are no-ops.
func (idx *vecIndex) load(ctx context.Context, s *Store) error {
	if idx.isLoaded() {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, content, url, source, version, metadata, updated_at, embedding FROM documents WHERE embedding IS NOT NULL",
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries := make(map[string]vecEntry)
	for rows.Next() {
		var (
			doc       domain.Document
			metaJSON  string
			updatedAt string
			blob      []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.URL, &doc.Source, &doc.Version, &metaJSON, &updatedAt, &blob); err != nil {
			continue
		}
		emb := bytesToFloat32(blob)
		if emb == nil {
			continue
		}
		decodeFields(&doc, metaJSON, updatedAt)
		entries[doc.ID] = vecEntry{doc: doc, embedding: emb}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	if !idx.loaded {
		idx.entries = entries
		idx.loaded = true
	}
	idx.mu.Unlock()
	return nil
}
