package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"askverse/internal/domain"
)

const defaultTopK = 5

// Search implements domain.DocumentSearcher.
//
// With an embedder, keyword (FTS5 BM25) and vector (cosine) rankings are
// merged by reciprocal rank fusion and each hit reports its best score.
// Without one, or when the query cannot be embedded, keyword ranking alone
// is used.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	if limit <= 0 {
		limit = defaultTopK
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	fetch := limit * 2

	kw, kwErr := s.keywordSearch(ctx, query, fetch)
	vec, vecErr := s.vectorSearch(ctx, query, fetch)
	if vecErr != nil {
		s.logger.Warn("vector store: vector search unavailable, using keyword ranking", "error", vecErr)
	}

	switch {
	case kwErr != nil && vecErr != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorSearch, kwErr)
	case kwErr != nil || len(kw) == 0:
		return truncate(vec, limit), nil
	case vecErr != nil || len(vec) == 0:
		return truncate(kw, limit), nil
	default:
		return truncate(reciprocalRankFusion(kw, vec), limit), nil
	}
}

// keywordSearch runs an FTS5 MATCH over title and content. A query that FTS5
// cannot parse falls back to LIKE.
func (s *Store) keywordSearch(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	match := ftsQuery(query)
	if match == "" {
		return s.likeSearch(ctx, query, limit)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.title, d.content, d.url, d.source, d.version, d.metadata, d.updated_at, bm25(documents_fts)
		 FROM documents_fts f
		 JOIN documents d ON d.rowid = f.rowid
		 WHERE documents_fts MATCH ?
		 ORDER BY bm25(documents_fts)
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return s.likeSearch(ctx, query, limit)
	}
	defer rows.Close()

	var hits []domain.ScoredDocument
	for rows.Next() {
		var (
			doc       domain.Document
			metaJSON  string
			updatedAt string
			rank      float64
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.URL, &doc.Source, &doc.Version, &metaJSON, &updatedAt, &rank); err != nil {
			continue
		}
		decodeFields(&doc, metaJSON, updatedAt)
		hits = append(hits, domain.ScoredDocument{Document: doc, Relevance: bm25Relevance(rank)})
	}
	return hits, rows.Err()
}

func (s *Store) likeSearch(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, url, source, version, metadata, updated_at FROM documents
		 WHERE content LIKE ? OR title LIKE ? ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.ScoredDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			continue
		}
		hits = append(hits, domain.ScoredDocument{Document: doc, Relevance: 1.0 / float64(len(hits)+2)})
	}
	return hits, rows.Err()
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	if err := s.vecIdx.load(ctx, s); err != nil {
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	return s.vecIdx.search(vecs[0], limit), nil
}

// ftsQuery turns free text into an FTS5 OR-query of quoted terms so that
// punctuation in user input never reaches the FTS5 parser.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// bm25Relevance maps an FTS5 bm25 rank (negative, lower is better) into (0,1).
func bm25Relevance(rank float64) float64 {
	x := -rank
	if x <= 0 || math.IsNaN(x) {
		return 0
	}
	return x / (1 + x)
}

// reciprocalRankFusion merges two ranked lists (k=60). Each merged hit keeps
// the higher of its two relevance scores.
func reciprocalRankFusion(a, b []domain.ScoredDocument) []domain.ScoredDocument {
	const k = 60

	scores := make(map[string]float64)
	hits := make(map[string]domain.ScoredDocument)
	add := func(list []domain.ScoredDocument) {
		for rank, h := range list {
			scores[h.ID] += 1.0 / float64(k+rank+1)
			if prev, ok := hits[h.ID]; !ok || h.Relevance > prev.Relevance {
				hits[h.ID] = h
			}
		}
	}
	add(a)
	add(b)

	out := make([]domain.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := scores[out[i].ID], scores[out[j].ID]
		if si == sj {
			return out[i].ID < out[j].ID
		}
		return si > sj
	})
	return out
}

func truncate(hits []domain.ScoredDocument, limit int) []domain.ScoredDocument {
	if len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for empty or mismatched vectors and for NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
