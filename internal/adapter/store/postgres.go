package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"askverse/internal/domain"
)

// UserModel is the users table.
type UserModel struct {
	ID             string `gorm:"primaryKey;size:26"`
	Email          string `gorm:"uniqueIndex;not null"`
	HashedPassword string `gorm:"not null"`
	IsActive       bool
	IsSuperuser    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UserModel) TableName() string { return "users" }

// APIKeyModel is the api_keys table.
type APIKeyModel struct {
	ID           string    `gorm:"primaryKey;size:26"`
	ClientID     string    `gorm:"uniqueIndex;not null"`
	HashedSecret string    `gorm:"not null"`
	Name         string
	IsActive     bool
	UserID       string    `gorm:"index;not null"`
	User         UserModel `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

func (APIKeyModel) TableName() string { return "api_keys" }

// QueryModel is the queries table.
type QueryModel struct {
	ID               string `gorm:"primaryKey;size:26"`
	QueryText        string `gorm:"type:text;not null"`
	ResponseText     string `gorm:"type:text"`
	ConfidenceScore  float64
	ProcessingTimeMS int64
	Success          bool
	UserID           *string            `gorm:"index"`
	Metadata         map[string]any     `gorm:"serializer:json;type:jsonb"`
	Sources          []QuerySourceModel `gorm:"foreignKey:QueryID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time          `gorm:"index"`
}

func (QueryModel) TableName() string { return "queries" }

// QuerySourceModel is the query_sources table.
type QuerySourceModel struct {
	ID             string `gorm:"primaryKey;size:26"`
	QueryID        string `gorm:"index;not null"`
	SourceType     string `gorm:"not null"`
	SourceID       string `gorm:"not null"`
	RelevanceScore float64
	Content        string `gorm:"type:text"`
}

func (QuerySourceModel) TableName() string { return "query_sources" }

// SyncRunModel is the sync_runs table.
type SyncRunModel struct {
	ID                 string    `gorm:"primaryKey;size:26"`
	StartedAt          time.Time `gorm:"index"`
	FinishedAt         *time.Time
	Status             string `gorm:"not null"`
	DocumentsProcessed int
	DocumentsFailed    int
	ErrorLog           []string `gorm:"serializer:json;type:jsonb"`
}

func (SyncRunModel) TableName() string { return "sync_runs" }

// DocumentMetaModel is the document_meta table.
type DocumentMetaModel struct {
	ID        string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Source    string `gorm:"not null"`
	URL       string
	Version   int
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
	SyncedAt  time.Time `gorm:"index"`
}

func (DocumentMetaModel) TableName() string { return "document_meta" }

// PostgresRepository implements domain.Repository using gorm over PostgreSQL.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository connects to dsn and migrates the schema.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newGormRepository(db)
}

func newGormRepository(db *gorm.DB) (*PostgresRepository, error) {
	err := db.AutoMigrate(
		&UserModel{}, &APIKeyModel{}, &QueryModel{}, &QuerySourceModel{},
		&SyncRunModel{}, &DocumentMetaModel{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// Close closes the underlying connection pool.
func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	m := UserModel{
		ID: u.ID, Email: u.Email, HashedPassword: u.HashedPassword,
		IsActive: u.IsActive, IsSuperuser: u.IsSuperuser,
	}
	err := r.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.NewSubSystemError("user", "store.CreateUser", domain.ErrDuplicate, u.Email)
	}
	if err != nil {
		return repoErr("store.CreateUser", err)
	}
	u.CreatedAt, u.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (r *PostgresRepository) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m UserModel
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewSubSystemError("user", "store.UserByEmail", domain.ErrNotFound, email)
	}
	if err != nil {
		return nil, repoErr("store.UserByEmail", err)
	}
	return m.toDomain(), nil
}

func (r *PostgresRepository) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var m UserModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewSubSystemError("user", "store.UserByID", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, repoErr("store.UserByID", err)
	}
	return m.toDomain(), nil
}

func (r *PostgresRepository) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	if k.ID == "" {
		k.ID = ulid.Make().String()
	}
	m := APIKeyModel{
		ID: k.ID, ClientID: k.ClientID, HashedSecret: k.HashedSecret,
		Name: k.Name, IsActive: k.IsActive, UserID: k.UserID,
	}
	err := r.db.WithContext(ctx).Omit("User").Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.NewDomainError("store.CreateAPIKey", domain.ErrDuplicate, k.ClientID)
	}
	if err != nil {
		return repoErr("store.CreateAPIKey", err)
	}
	k.CreatedAt = m.CreatedAt
	return nil
}

func (r *PostgresRepository) APIKeyByClientID(ctx context.Context, clientID string) (*domain.APIKey, error) {
	var m APIKeyModel
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewSubSystemError("apikey", "store.APIKeyByClientID", domain.ErrNotFound, clientID)
	}
	if err != nil {
		return nil, repoErr("store.APIKeyByClientID", err)
	}
	return &domain.APIKey{
		ID: m.ID, ClientID: m.ClientID, HashedSecret: m.HashedSecret, Name: m.Name,
		IsActive: m.IsActive, UserID: m.UserID, CreatedAt: m.CreatedAt, LastUsedAt: m.LastUsedAt,
	}, nil
}

func (r *PostgresRepository) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&APIKeyModel{}).Where("id = ?", id).Update("last_used_at", at)
	if res.Error != nil {
		return repoErr("store.TouchAPIKey", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewSubSystemError("apikey", "store.TouchAPIKey", domain.ErrNotFound, id)
	}
	return nil
}

func (r *PostgresRepository) SaveQuery(ctx context.Context, q *domain.QueryRecord) error {
	if q.ID == "" {
		q.ID = ulid.Make().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	m := QueryModel{
		ID: q.ID, QueryText: q.QueryText, ResponseText: q.ResponseText,
		ConfidenceScore: q.Confidence, ProcessingTimeMS: q.ProcessingTime.Milliseconds(),
		Success: q.Success, Metadata: q.Metadata, CreatedAt: q.CreatedAt,
	}
	if q.UserID != "" {
		m.UserID = &q.UserID
	}
	for i := range q.Sources {
		src := &q.Sources[i]
		if src.ID == "" {
			src.ID = ulid.Make().String()
		}
		src.QueryID = q.ID
		m.Sources = append(m.Sources, QuerySourceModel{
			ID: src.ID, QueryID: q.ID, SourceType: src.SourceType, SourceID: src.SourceID,
			RelevanceScore: src.Relevance, Content: src.Content,
		})
	}
	// Create saves the has-many association in the same transaction.
	return repoErr("store.SaveQuery", r.db.WithContext(ctx).Create(&m).Error)
}

func (r *PostgresRepository) GetQuery(ctx context.Context, id string) (*domain.QueryRecord, error) {
	var m QueryModel
	err := r.db.WithContext(ctx).
		Preload("Sources", func(db *gorm.DB) *gorm.DB { return db.Order("relevance_score DESC") }).
		Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewSubSystemError("query", "store.GetQuery", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, repoErr("store.GetQuery", err)
	}
	q := m.toDomain()
	return &q, nil
}

func (r *PostgresRepository) ListQueries(ctx context.Context, userID string, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	tx := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	var models []QueryModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, repoErr("store.ListQueries", err)
	}
	out := make([]domain.QueryRecord, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *PostgresRepository) StartSync(ctx context.Context, rec *domain.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.Status = domain.SyncRunning
	m := SyncRunModel{ID: rec.ID, StartedAt: rec.StartedAt, Status: string(rec.Status), ErrorLog: []string{}}
	return repoErr("store.StartSync", r.db.WithContext(ctx).Create(&m).Error)
}

func (r *PostgresRepository) FinishSync(ctx context.Context, rec *domain.SyncRecord) error {
	if rec.FinishedAt == nil {
		now := time.Now().UTC()
		rec.FinishedAt = &now
	}
	res := r.db.WithContext(ctx).Model(&SyncRunModel{ID: rec.ID}).
		Select("finished_at", "status", "documents_processed", "documents_failed", "error_log").
		Updates(SyncRunModel{
			FinishedAt:         rec.FinishedAt,
			Status:             string(rec.Status),
			DocumentsProcessed: rec.DocumentsProcessed,
			DocumentsFailed:    rec.DocumentsFailed,
			ErrorLog:           orEmptySlice(rec.ErrorLog),
		})
	if res.Error != nil {
		return repoErr("store.FinishSync", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewDomainError("store.FinishSync", domain.ErrNotFound, rec.ID)
	}
	return nil
}

func (r *PostgresRepository) LastSync(ctx context.Context) (*domain.SyncRecord, error) {
	var m SyncRunModel
	err := r.db.WithContext(ctx).Order("started_at DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewDomainError("store.LastSync", domain.ErrNotFound, "no sync runs")
	}
	if err != nil {
		return nil, repoErr("store.LastSync", err)
	}
	return &domain.SyncRecord{
		ID: m.ID, StartedAt: m.StartedAt, FinishedAt: m.FinishedAt, Status: domain.SyncStatus(m.Status),
		DocumentsProcessed: m.DocumentsProcessed, DocumentsFailed: m.DocumentsFailed, ErrorLog: m.ErrorLog,
	}, nil
}

func (r *PostgresRepository) UpsertDocumentMeta(ctx context.Context, dm *domain.DocumentMeta) error {
	if dm.SyncedAt.IsZero() {
		dm.SyncedAt = time.Now().UTC()
	}
	m := DocumentMetaModel{
		ID: dm.ID, Title: dm.Title, Source: dm.Source, URL: dm.URL,
		Version: dm.Version, UpdatedAt: dm.UpdatedAt, SyncedAt: dm.SyncedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "source", "url", "version", "updated_at", "synced_at"}),
	}).Create(&m).Error
	return repoErr("store.UpsertDocumentMeta", err)
}

func (r *PostgresRepository) DocumentsSyncedBefore(ctx context.Context, t time.Time) ([]domain.DocumentMeta, error) {
	var models []DocumentMetaModel
	if err := r.db.WithContext(ctx).Where("synced_at < ?", t).Order("synced_at").Find(&models).Error; err != nil {
		return nil, repoErr("store.DocumentsSyncedBefore", err)
	}
	out := make([]domain.DocumentMeta, 0, len(models))
	for _, m := range models {
		out = append(out, domain.DocumentMeta{
			ID: m.ID, Title: m.Title, Source: m.Source, URL: m.URL,
			Version: m.Version, UpdatedAt: m.UpdatedAt, SyncedAt: m.SyncedAt,
		})
	}
	return out, nil
}

func (r *PostgresRepository) DeleteDocumentMeta(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return repoErr("store.DeleteDocumentMeta",
		r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&DocumentMetaModel{}).Error)
}

func (m UserModel) toDomain() *domain.User {
	return &domain.User{
		ID: m.ID, Email: m.Email, HashedPassword: m.HashedPassword,
		IsActive: m.IsActive, IsSuperuser: m.IsSuperuser,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (m QueryModel) toDomain() domain.QueryRecord {
	q := domain.QueryRecord{
		ID: m.ID, QueryText: m.QueryText, ResponseText: m.ResponseText,
		Confidence: m.ConfidenceScore, ProcessingTime: time.Duration(m.ProcessingTimeMS) * time.Millisecond,
		Success: m.Success, Metadata: m.Metadata, CreatedAt: m.CreatedAt,
	}
	if m.UserID != nil {
		q.UserID = *m.UserID
	}
	for _, s := range m.Sources {
		q.Sources = append(q.Sources, domain.QuerySource{
			ID: s.ID, QueryID: s.QueryID, SourceType: s.SourceType, SourceID: s.SourceID,
			Relevance: s.RelevanceScore, Content: s.Content,
		})
	}
	return q
}
