package domain

import (
	"context"
	"time"
)

// User is an account that owns API keys and queries.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// APIKey is a client credential. Only the secret's hash is stored.
type APIKey struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	HashedSecret string     `json:"-"`
	Name         string     `json:"name,omitempty"`
	IsActive     bool       `json:"is_active"`
	UserID       string     `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// QueryRecord is a persisted question and its answer.
type QueryRecord struct {
	ID             string         `json:"id"`
	QueryText      string         `json:"query_text"`
	ResponseText   string         `json:"response_text"`
	Confidence     float64        `json:"confidence_score"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Success        bool           `json:"success"`
	UserID         string         `json:"user_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Sources        []QuerySource  `json:"sources,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// QuerySource links a query to material that contributed to its answer.
type QuerySource struct {
	ID         string  `json:"id"`
	QueryID    string  `json:"query_id"`
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Relevance  float64 `json:"relevance_score"`
	Content    string  `json:"content,omitempty"`
}

// SyncStatus is the lifecycle state of a document sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncRecord describes one document sync run.
type SyncRecord struct {
	ID                 string     `json:"id"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Status             SyncStatus `json:"status"`
	DocumentsProcessed int        `json:"documents_processed"`
	DocumentsFailed    int        `json:"documents_failed"`
	ErrorLog           []string   `json:"error_log,omitempty"`
}

// DocumentMeta tracks a synced document outside the vector index.
type DocumentMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	URL       string    `json:"url,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Repository is the relational store.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)

	CreateAPIKey(ctx context.Context, k *APIKey) error
	APIKeyByClientID(ctx context.Context, clientID string) (*APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	SaveQuery(ctx context.Context, q *QueryRecord) error
	GetQuery(ctx context.Context, id string) (*QueryRecord, error)
	ListQueries(ctx context.Context, userID string, limit int) ([]QueryRecord, error)

	StartSync(ctx context.Context, rec *SyncRecord) error
	FinishSync(ctx context.Context, rec *SyncRecord) error
	LastSync(ctx context.Context) (*SyncRecord, error)

	UpsertDocumentMeta(ctx context.Context, m *DocumentMeta) error
	DocumentsSyncedBefore(ctx context.Context, t time.Time) ([]DocumentMeta, error)
	DeleteDocumentMeta(ctx context.Context, ids []string) error

	Close() error
}
