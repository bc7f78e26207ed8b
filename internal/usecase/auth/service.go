// Package auth manages users and API key credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"askverse/internal/domain"
)

const (
	minPasswordLen = 8
	secretBytes    = 32
)

// Credentials is a freshly issued API key. Secret is shown once and never
// stored.
type Credentials struct {
	KeyID    string `json:"key_id"`
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

// Token renders the credentials in the "client_id:secret" bearer form.
func (c Credentials) Token() string { return c.ClientID + ":" + c.Secret }

// Principal is an authenticated caller.
type Principal struct {
	User   *domain.User
	APIKey *domain.APIKey
}

// Service registers users and issues and checks API keys.
type Service struct {
	repo   domain.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service over repo.
func NewService(repo domain.Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Register creates an active user with an argon2id password hash.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.NewDomainError("auth.Register", domain.ErrInvalidInput, "invalid email")
	}
	if len(password) < minPasswordLen {
		return nil, domain.NewDomainError("auth.Register", domain.ErrInvalidInput,
			fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	hash, err := HashSecret(password)
	if err != nil {
		return nil, domain.WrapOp("auth.Register", err)
	}
	now := s.now().UTC()
	u := &domain.User{
		ID:             ulid.Make().String(),
		Email:          email,
		HashedPassword: hash,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, domain.WrapOp("auth.Register", err)
	}
	s.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// CheckPassword returns the user if email and password match an active user.
func (s *Service) CheckPassword(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := s.repo.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewDomainError("auth.CheckPassword", domain.ErrAuthInvalid, "")
		}
		return nil, domain.WrapOp("auth.CheckPassword", err)
	}
	if !u.IsActive || !VerifySecret(password, u.HashedPassword) {
		return nil, domain.NewDomainError("auth.CheckPassword", domain.ErrAuthInvalid, "")
	}
	return u, nil
}

// IssueAPIKey creates a key for userID. Only the secret's hash is stored.
func (s *Service) IssueAPIKey(ctx context.Context, userID, name string) (*Credentials, error) {
	u, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("auth.IssueAPIKey", err)
	}
	if !u.IsActive {
		return nil, domain.NewDomainError("auth.IssueAPIKey", domain.ErrInvalidInput, "user is inactive")
	}
	secret, err := randomToken(secretBytes)
	if err != nil {
		return nil, domain.WrapOp("auth.IssueAPIKey", err)
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, domain.WrapOp("auth.IssueAPIKey", err)
	}
	key := &domain.APIKey{
		ID:           ulid.Make().String(),
		ClientID:     uuid.NewString(),
		HashedSecret: hash,
		Name:         name,
		IsActive:     true,
		UserID:       u.ID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, domain.WrapOp("auth.IssueAPIKey", err)
	}
	s.logger.Info("api key issued", "user_id", u.ID, "client_id", key.ClientID)
	return &Credentials{KeyID: key.ID, ClientID: key.ClientID, Secret: secret}, nil
}

// Authenticate resolves a client id and secret to an active user. Every
// failure is reported as ErrAuthInvalid without saying which part failed.
func (s *Service) Authenticate(ctx context.Context, clientID, secret string) (*Principal, error) {
	invalid := domain.NewDomainError("auth.Authenticate", domain.ErrAuthInvalid, "")
	if clientID == "" || secret == "" {
		return nil, invalid
	}
	key, err := s.repo.APIKeyByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, invalid
		}
		return nil, domain.WrapOp("auth.Authenticate", err)
	}
	if !key.IsActive || !VerifySecret(secret, key.HashedSecret) {
		return nil, invalid
	}
	u, err := s.repo.UserByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, invalid
		}
		return nil, domain.WrapOp("auth.Authenticate", err)
	}
	if !u.IsActive {
		return nil, invalid
	}
	now := s.now().UTC()
	if err := s.repo.TouchAPIKey(ctx, key.ID, now); err != nil {
		s.logger.Warn("touch api key failed", "client_id", clientID, "error", err)
	} else {
		key.LastUsedAt = &now
	}
	return &Principal{User: u, APIKey: key}, nil
}

// ParseToken splits a "client_id:secret" token.
func ParseToken(token string) (clientID, secret string, ok bool) {
	clientID, secret, ok = strings.Cut(strings.TrimSpace(token), ":")
	if !ok || clientID == "" || secret == "" {
		return "", "", false
	}
	return clientID, secret, true
}
