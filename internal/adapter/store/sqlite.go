package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"askverse/internal/domain"
)

// SQLiteRepository implements domain.Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) a SQLite database at path and runs
// the schema migration.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			is_active       INTEGER NOT NULL DEFAULT 1,
			is_superuser    INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS api_keys (
			id            TEXT PRIMARY KEY,
			client_id     TEXT NOT NULL UNIQUE,
			hashed_secret TEXT NOT NULL,
			name          TEXT NOT NULL DEFAULT '',
			is_active     INTEGER NOT NULL DEFAULT 1,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at    TEXT NOT NULL,
			last_used_at  TEXT
		);
		CREATE TABLE IF NOT EXISTS queries (
			id                 TEXT PRIMARY KEY,
			query_text         TEXT NOT NULL,
			response_text      TEXT NOT NULL DEFAULT '',
			confidence_score   REAL NOT NULL DEFAULT 0,
			processing_time_ms INTEGER NOT NULL DEFAULT 0,
			success            INTEGER NOT NULL DEFAULT 0,
			user_id            TEXT,
			metadata           TEXT NOT NULL DEFAULT '{}',
			created_at         TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queries_user ON queries(user_id, created_at);
		CREATE TABLE IF NOT EXISTS query_sources (
			id              TEXT PRIMARY KEY,
			query_id        TEXT NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
			source_type     TEXT NOT NULL,
			source_id       TEXT NOT NULL,
			relevance_score REAL NOT NULL DEFAULT 0,
			content         TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_query_sources_query ON query_sources(query_id);
		CREATE TABLE IF NOT EXISTS sync_runs (
			id                  TEXT PRIMARY KEY,
			started_at          TEXT NOT NULL,
			finished_at         TEXT,
			status              TEXT NOT NULL,
			documents_processed INTEGER NOT NULL DEFAULT 0,
			documents_failed    INTEGER NOT NULL DEFAULT 0,
			error_log           TEXT NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS document_meta (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			source     TEXT NOT NULL,
			url        TEXT NOT NULL DEFAULT '',
			version    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			synced_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_document_meta_synced ON document_meta(synced_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

func (s *SQLiteRepository) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, hashed_password, is_active, is_superuser, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.ID, u.Email, u.HashedPassword, u.IsActive, u.IsSuperuser, formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return domain.NewSubSystemError("user", "store.CreateUser", domain.ErrDuplicate, u.Email)
	}
	return repoErr("store.CreateUser", err)
}

func (s *SQLiteRepository) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, hashed_password, is_active, is_superuser, created_at, updated_at FROM users WHERE email = ?", email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("user", "store.UserByEmail", domain.ErrNotFound, email)
	}
	return u, repoErr("store.UserByEmail", err)
}

func (s *SQLiteRepository) UserByID(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, hashed_password, is_active, is_superuser, created_at, updated_at FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("user", "store.UserByID", domain.ErrNotFound, id)
	}
	return u, repoErr("store.UserByID", err)
}

func (s *SQLiteRepository) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	if k.ID == "" {
		k.ID = ulid.Make().String()
	}
	k.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO api_keys (id, client_id, hashed_secret, name, is_active, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		k.ID, k.ClientID, k.HashedSecret, k.Name, k.IsActive, k.UserID, formatTime(k.CreatedAt),
	)
	if isUniqueViolation(err) {
		return domain.NewDomainError("store.CreateAPIKey", domain.ErrDuplicate, k.ClientID)
	}
	return repoErr("store.CreateAPIKey", err)
}

func (s *SQLiteRepository) APIKeyByClientID(ctx context.Context, clientID string) (*domain.APIKey, error) {
	var (
		k          domain.APIKey
		createdStr string
		lastUsed   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, client_id, hashed_secret, name, is_active, user_id, created_at, last_used_at FROM api_keys WHERE client_id = ?",
		clientID,
	).Scan(&k.ID, &k.ClientID, &k.HashedSecret, &k.Name, &k.IsActive, &k.UserID, &createdStr, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("apikey", "store.APIKeyByClientID", domain.ErrNotFound, clientID)
	}
	if err != nil {
		return nil, repoErr("store.APIKeyByClientID", err)
	}
	k.CreatedAt = parseTime(createdStr)
	k.LastUsedAt = parseNullTime(lastUsed)
	return &k, nil
}

func (s *SQLiteRepository) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return repoErr("store.TouchAPIKey", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewSubSystemError("apikey", "store.TouchAPIKey", domain.ErrNotFound, id)
	}
	return nil
}

// SaveQuery stores the query and its sources in one transaction.
func (s *SQLiteRepository) SaveQuery(ctx context.Context, q *domain.QueryRecord) error {
	if q.ID == "" {
		q.ID = ulid.Make().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(orEmpty(q.Metadata))
	if err != nil {
		return fmt.Errorf("marshal query metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repoErr("store.SaveQuery", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queries (id, query_text, response_text, confidence_score, processing_time_ms, success, user_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.QueryText, q.ResponseText, q.Confidence, q.ProcessingTime.Milliseconds(), q.Success,
		nullString(q.UserID), string(meta), formatTime(q.CreatedAt),
	)
	if err != nil {
		return repoErr("store.SaveQuery", err)
	}
	for i := range q.Sources {
		src := &q.Sources[i]
		if src.ID == "" {
			src.ID = ulid.Make().String()
		}
		src.QueryID = q.ID
		_, err = tx.ExecContext(ctx,
			"INSERT INTO query_sources (id, query_id, source_type, source_id, relevance_score, content) VALUES (?, ?, ?, ?, ?, ?)",
			src.ID, src.QueryID, src.SourceType, src.SourceID, src.Relevance, src.Content,
		)
		if err != nil {
			return repoErr("store.SaveQuery", err)
		}
	}
	return repoErr("store.SaveQuery", tx.Commit())
}

func (s *SQLiteRepository) GetQuery(ctx context.Context, id string) (*domain.QueryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectQuery+" WHERE id = ?", id)
	q, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("query", "store.GetQuery", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, repoErr("store.GetQuery", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, query_id, source_type, source_id, relevance_score, content FROM query_sources WHERE query_id = ? ORDER BY relevance_score DESC", id)
	if err != nil {
		return nil, repoErr("store.GetQuery", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src domain.QuerySource
		if err := rows.Scan(&src.ID, &src.QueryID, &src.SourceType, &src.SourceID, &src.Relevance, &src.Content); err != nil {
			return nil, repoErr("store.GetQuery", err)
		}
		q.Sources = append(q.Sources, src)
	}
	return q, repoErr("store.GetQuery", rows.Err())
}

// ListQueries returns the newest queries first. An empty userID lists all.
func (s *SQLiteRepository) ListQueries(ctx context.Context, userID string, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = s.db.QueryContext(ctx, selectQuery+" ORDER BY created_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectQuery+" WHERE user_id = ? ORDER BY created_at DESC LIMIT ?", userID, limit)
	}
	if err != nil {
		return nil, repoErr("store.ListQueries", err)
	}
	defer rows.Close()

	var out []domain.QueryRecord
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, repoErr("store.ListQueries", err)
		}
		out = append(out, *q)
	}
	return out, repoErr("store.ListQueries", rows.Err())
}

func (s *SQLiteRepository) StartSync(ctx context.Context, rec *domain.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.Status = domain.SyncRunning
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_runs (id, started_at, status) VALUES (?, ?, ?)",
		rec.ID, formatTime(rec.StartedAt), string(rec.Status),
	)
	return repoErr("store.StartSync", err)
}

func (s *SQLiteRepository) FinishSync(ctx context.Context, rec *domain.SyncRecord) error {
	if rec.FinishedAt == nil {
		now := time.Now().UTC()
		rec.FinishedAt = &now
	}
	errLog, err := json.Marshal(orEmptySlice(rec.ErrorLog))
	if err != nil {
		return fmt.Errorf("marshal sync error log: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, status = ?, documents_processed = ?, documents_failed = ?, error_log = ?
		 WHERE id = ?`,
		formatTime(*rec.FinishedAt), string(rec.Status), rec.DocumentsProcessed, rec.DocumentsFailed, string(errLog), rec.ID,
	)
	if err != nil {
		return repoErr("store.FinishSync", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("store.FinishSync", domain.ErrNotFound, rec.ID)
	}
	return nil
}

// LastSync returns the most recently started sync run.
func (s *SQLiteRepository) LastSync(ctx context.Context) (*domain.SyncRecord, error) {
	var (
		rec                domain.SyncRecord
		startedStr, status string
		finished           sql.NullString
		errLog             string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, documents_processed, documents_failed, error_log
		 FROM sync_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&rec.ID, &startedStr, &finished, &status, &rec.DocumentsProcessed, &rec.DocumentsFailed, &errLog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("store.LastSync", domain.ErrNotFound, "no sync runs")
	}
	if err != nil {
		return nil, repoErr("store.LastSync", err)
	}
	rec.StartedAt = parseTime(startedStr)
	rec.FinishedAt = parseNullTime(finished)
	rec.Status = domain.SyncStatus(status)
	if err := json.Unmarshal([]byte(errLog), &rec.ErrorLog); err != nil {
		return nil, fmt.Errorf("unmarshal sync error log: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteRepository) UpsertDocumentMeta(ctx context.Context, m *domain.DocumentMeta) error {
	if m.SyncedAt.IsZero() {
		m.SyncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_meta (id, title, source, url, version, updated_at, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, source = excluded.source, url = excluded.url,
			version = excluded.version, updated_at = excluded.updated_at, synced_at = excluded.synced_at`,
		m.ID, m.Title, m.Source, m.URL, m.Version, formatTime(m.UpdatedAt), formatTime(m.SyncedAt),
	)
	return repoErr("store.UpsertDocumentMeta", err)
}

func (s *SQLiteRepository) DocumentsSyncedBefore(ctx context.Context, t time.Time) ([]domain.DocumentMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, source, url, version, updated_at, synced_at FROM document_meta WHERE synced_at < ? ORDER BY synced_at",
		formatTime(t))
	if err != nil {
		return nil, repoErr("store.DocumentsSyncedBefore", err)
	}
	defer rows.Close()

	var out []domain.DocumentMeta
	for rows.Next() {
		var (
			m                     domain.DocumentMeta
			updatedStr, syncedStr string
		)
		if err := rows.Scan(&m.ID, &m.Title, &m.Source, &m.URL, &m.Version, &updatedStr, &syncedStr); err != nil {
			return nil, repoErr("store.DocumentsSyncedBefore", err)
		}
		m.UpdatedAt = parseTime(updatedStr)
		m.SyncedAt = parseTime(syncedStr)
		out = append(out, m)
	}
	return out, repoErr("store.DocumentsSyncedBefore", rows.Err())
}

func (s *SQLiteRepository) DeleteDocumentMeta(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM document_meta WHERE id IN ("+placeholders+")", args...)
	return repoErr("store.DeleteDocumentMeta", err)
}

const selectQuery = `SELECT id, query_text, response_text, confidence_score, processing_time_ms, success, user_id, metadata, created_at FROM queries`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var (
		u                      domain.User
		createdStr, updatedStr string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &u.IsSuperuser, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdStr)
	u.UpdatedAt = parseTime(updatedStr)
	return &u, nil
}

func scanQuery(row scanner) (*domain.QueryRecord, error) {
	var (
		q                   domain.QueryRecord
		ms                  int64
		userID              sql.NullString
		metaStr, createdStr string
	)
	if err := row.Scan(&q.ID, &q.QueryText, &q.ResponseText, &q.Confidence, &ms, &q.Success, &userID, &metaStr, &createdStr); err != nil {
		return nil, err
	}
	q.ProcessingTime = time.Duration(ms) * time.Millisecond
	q.UserID = userID.String
	q.CreatedAt = parseTime(createdStr)
	if err := json.Unmarshal([]byte(metaStr), &q.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal query metadata: %w", err)
	}
	if len(q.Metadata) == 0 {
		q.Metadata = nil
	}
	return &q, nil
}

// timeLayout is fixed-width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func repoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRepository, err)
}
