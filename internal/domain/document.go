package domain

import (
	"context"
	"time"
)

// Document source identifiers.
const (
	SourceConfluence = "confluence"
	SourceVector     = "vector"
	SourceAPI        = "api"
)

// Document is a unit of searchable content.
type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	URL       string            `json:"url,omitempty"`
	Source    string            `json:"source"`
	Version   int               `json:"version,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
}

// ScoredDocument is a search hit.
type ScoredDocument struct {
	Document
	Relevance float64 `json:"relevance_score"`
}

// DocumentSearcher returns documents ordered by descending relevance.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]ScoredDocument, error)
}

// DocumentIndex is a writable vector index of documents.
type DocumentIndex interface {
	DocumentSearcher
	Upsert(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// PageRef is a source page listing entry without its body.
type PageRef struct {
	ID      string
	Title   string
	Version int
}

// PageSource enumerates and fetches pages from an external wiki.
type PageSource interface {
	ListPages(ctx context.Context) ([]PageRef, error)
	GetPage(ctx context.Context, id string) (*Document, error)
}
