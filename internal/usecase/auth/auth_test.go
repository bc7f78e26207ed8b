package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/adapter/store"
	"askverse/internal/domain"
)

func newTestService(t *testing.T) (*Service, domain.Repository) {
	t.Helper()
	repo, err := store.NewSQLiteRepository(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

func TestHashSecret(t *testing.T) {
	h1, err := HashSecret("correct horse")
	require.NoError(t, err)
	h2, err := HashSecret("correct horse")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(h1, "$argon2id$v=19$"))
	assert.NotEqual(t, h1, h2, "salts must differ")
	assert.True(t, VerifySecret("correct horse", h1))
	assert.True(t, VerifySecret("correct horse", h2))
	assert.False(t, VerifySecret("battery staple", h1))
}

func TestVerifySecretMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$",
	} {
		assert.False(t, VerifySecret("secret", encoded), encoded)
	}
}

func TestRegister(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  Alice@Example.com ", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.NotContains(t, u.HashedPassword, "s3cret-pass")

	stored, err := repo.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, VerifySecret("s3cret-pass", stored.HashedPassword))

	_, err = svc.Register(ctx, "alice@example.com", "another-pass")
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, domain.CodeUserDuplicate, domain.ErrorCodeOf(err))
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), "not-an-email", "long-enough")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Register(context.Background(), "a@b.co", "short")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "bob@example.com", "hunter2hunter2")
	require.NoError(t, err)

	u, err := svc.CheckPassword(ctx, "BOB@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", u.Email)

	_, err = svc.CheckPassword(ctx, "bob@example.com", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	_, err = svc.CheckPassword(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, "carol@example.com", "password123")
	require.NoError(t, err)

	creds, err := svc.IssueAPIKey(ctx, u.ID, "ci")
	require.NoError(t, err)
	assert.Len(t, creds.ClientID, 36)
	assert.NotEmpty(t, creds.Secret)

	key, err := repo.APIKeyByClientID(ctx, creds.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, creds.Secret, key.HashedSecret)
	assert.Nil(t, key.LastUsedAt)

	clientID, secret, ok := ParseToken(creds.Token())
	require.True(t, ok)
	p, err := svc.Authenticate(ctx, clientID, secret)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.User.ID)
	assert.Equal(t, "ci", p.APIKey.Name)

	key, err = repo.APIKeyByClientID(ctx, creds.ClientID)
	require.NoError(t, err)
	assert.NotNil(t, key.LastUsedAt)
}

func TestAuthenticateFailures(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, "dave@example.com", "password123")
	require.NoError(t, err)
	creds, err := svc.IssueAPIKey(ctx, u.ID, "")
	require.NoError(t, err)

	// An active key owned by an inactive user.
	off := &domain.User{Email: "off@example.com", HashedPassword: "x", IsActive: false}
	require.NoError(t, repo.CreateUser(ctx, off))
	hash, err := HashSecret("offsecret")
	require.NoError(t, err)
	require.NoError(t, repo.CreateAPIKey(ctx, &domain.APIKey{ClientID: "off-client", HashedSecret: hash, IsActive: true, UserID: off.ID}))

	// An inactive key owned by an active user.
	require.NoError(t, repo.CreateAPIKey(ctx, &domain.APIKey{ClientID: "revoked", HashedSecret: hash, IsActive: false, UserID: u.ID}))

	tests := map[string][2]string{
		"empty":         {"", ""},
		"unknown key":   {"nope", "secret"},
		"wrong secret":  {creds.ClientID, "wrong"},
		"inactive user": {"off-client", "offsecret"},
		"inactive key":  {"revoked", "offsecret"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tc[0], tc[1])
			assert.ErrorIs(t, err, domain.ErrAuthInvalid)
		})
	}
}

func TestIssueAPIKeyRequiresActiveUser(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	off := &domain.User{Email: "gone@example.com", HashedPassword: "x", IsActive: false}
	require.NoError(t, repo.CreateUser(ctx, off))

	_, err := svc.IssueAPIKey(ctx, off.ID, "k")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.IssueAPIKey(ctx, "missing", "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseToken(t *testing.T) {
	id, secret, ok := ParseToken(" abc:def:ghi ")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "def:ghi", secret)

	for _, bad := range []string{"", "abc", ":def", "abc:"} {
		_, _, ok := ParseToken(bad)
		assert.False(t, ok, bad)
	}
}
