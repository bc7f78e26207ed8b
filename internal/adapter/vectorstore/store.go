// Package vectorstore is a sqlite-backed document index with FTS5 keyword
// search and cosine similarity over stored embeddings.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"askverse/internal/domain"
)

const defaultBatchSize = 100

// Options tunes a Store. Zero values select defaults.
type Options struct {
	BatchSize int
}

// Store implements domain.DocumentIndex.
//
// Embeddings are generated on write when an EmbeddingProvider is configured.
// An in-memory vecIndex mirrors the stored embeddings; it is loaded lazily on
// the first vector search and updated on every write.
type Store struct {
	db        *sql.DB
	embedder  domain.EmbeddingProvider
	logger    *slog.Logger
	batchSize int
	vecIdx    *vecIndex
}

var _ domain.DocumentIndex = (*Store)(nil)

// New opens (or creates) the sqlite database at path. Pass a nil embedder for
// keyword-only search.
func New(path string, embedder domain.EmbeddingProvider, logger *slog.Logger, opts Options) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create dir: %v", domain.ErrVectorStore, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrVectorStore, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrVectorStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	return &Store{
		db:        db,
		embedder:  embedder,
		logger:    logger,
		batchSize: batch,
		vecIdx:    newVecIndex(),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes docs in batches, one embedding call and one transaction per
// batch. A failed embedding call stores the batch without vectors.
func (s *Store) Upsert(ctx context.Context, docs []domain.Document) error {
	for start := 0; start < len(docs); start += s.batchSize {
		end := min(start+s.batchSize, len(docs))
		if err := s.upsertBatch(ctx, docs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces a single document.
func (s *Store) Update(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: update requires an id", domain.ErrInvalidInput)
	}
	return s.upsertBatch(ctx, []domain.Document{doc})
}

func (s *Store) upsertBatch(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := make([]domain.Document, len(docs))
	copy(batch, docs)
	now := time.Now().UTC()
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = ulid.Make().String()
		}
		if batch[i].UpdatedAt.IsZero() {
			batch[i].UpdatedAt = now
		}
	}

	embeddings := s.embedBatch(ctx, batch)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrVectorStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `
		INSERT INTO documents (id, title, content, url, source, version, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			content    = excluded.content,
			url        = excluded.url,
			source     = excluded.source,
			version    = excluded.version,
			metadata   = excluded.metadata,
			embedding  = excluded.embedding,
			updated_at = excluded.updated_at
	`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", domain.ErrVectorStore, err)
	}
	defer stmt.Close()

	for i, doc := range batch {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", domain.ErrVectorStore, err)
		}
		var emb []byte
		if embeddings[i] != nil {
			emb = float32ToBytes(embeddings[i])
		}
		if _, err := stmt.ExecContext(ctx,
			doc.ID, doc.Title, doc.Content, doc.URL, doc.Source, doc.Version,
			string(meta), emb, doc.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("%w: upsert %q: %v", domain.ErrVectorStore, doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrVectorStore, err)
	}

	if s.vecIdx.isLoaded() {
		for i, doc := range batch {
			if embeddings[i] != nil {
				s.vecIdx.put(doc, embeddings[i])
			} else {
				s.vecIdx.remove(doc.ID)
			}
		}
	}
	return nil
}

// embedBatch returns one vector (or nil) per document.
func (s *Store) embedBatch(ctx context.Context, docs []domain.Document) [][]float32 {
	out := make([][]float32, len(docs))
	if s.embedder == nil {
		return out
	}

	texts := make([]string, 0, len(docs))
	idx := make([]int, 0, len(docs))
	for i, d := range docs {
		if text := embedText(d); text != "" {
			texts = append(texts, text)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return out
	}

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("vector store: batch embedding failed, storing without vectors",
			"count", len(texts), "error", err)
		return out
	}
	for j, i := range idx {
		if j < len(vecs) {
			out[i] = vecs[j]
		}
	}
	return out
}

func embedText(d domain.Document) string {
	if d.Title == "" {
		return d.Content
	}
	if d.Content == "" {
		return d.Title
	}
	return d.Title + "\n\n" + d.Content
}

// Delete removes documents by id. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := "DELETE FROM documents WHERE id IN (" + placeholders(len(ids)) + ")"
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrVectorStore, err)
	}
	for _, id := range ids {
		s.vecIdx.remove(id)
	}
	return nil
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, content, url, source, version, metadata, updated_at FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewSubSystemError("document", "vectorstore.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", domain.ErrVectorStore, err)
	}
	return &doc, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrVectorStore, err)
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func scanDocument(row interface{ Scan(dest ...any) error }) (domain.Document, error) {
	var (
		doc       domain.Document
		metaJSON  string
		updatedAt string
	)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.URL, &doc.Source, &doc.Version, &metaJSON, &updatedAt); err != nil {
		return doc, err
	}
	decodeFields(&doc, metaJSON, updatedAt)
	return doc, nil
}

// decodeFields fills JSON and time columns. Parse errors indicate corrupt rows
// and are logged, not returned.
func decodeFields(doc *domain.Document, metaJSON, updatedAt string) {
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			slog.Warn("vector store: corrupt metadata JSON", "id", doc.ID, "error", err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		slog.Warn("vector store: corrupt updated_at", "id", doc.ID, "error", err)
	}
	doc.UpdatedAt = t
}
