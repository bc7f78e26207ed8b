package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askverse/internal/domain"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}
func (m *mockProvider) Name() string { return m.name }

func replying(name, content string) *mockProvider {
	return &mockProvider{
		name: name,
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: content}}, nil
		},
	}
}

func failing(name string, err error) *mockProvider {
	return &mockProvider{
		name: name,
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, err
		},
	}
}

func TestFailoverPrimarySuccess(t *testing.T) {
	fallback := &mockProvider{
		name: "fallback",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			t.Fatal("fallback should not be called")
			return nil, nil
		},
	}

	fp := NewFailoverProvider(replying("primary", "primary response"), []domain.LLMProvider{fallback}, slog.Default())
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "primary response", resp.Message.Content)
}

func TestFailoverPrimaryFailFallbackSuccess(t *testing.T) {
	fp := NewFailoverProvider(failing("primary", errors.New("primary down")),
		[]domain.LLMProvider{replying("fallback", "fallback response")}, slog.Default())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback response", resp.Message.Content)
}

func TestFailoverAllFail(t *testing.T) {
	fp := NewFailoverProvider(failing("primary", domain.ErrRateLimit),
		[]domain.LLMProvider{failing("fb1", errors.New("fb1 down")), failing("fb2", errors.New("fb2 down"))},
		slog.Default())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Contains(t, err.Error(), "all providers failed")
	assert.Contains(t, err.Error(), "fb2 down")
}

func TestFailoverStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &mockProvider{
		name: "primary",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			cancel()
			return nil, context.Canceled
		},
	}
	called := false
	fallback := &mockProvider{
		name: "fallback",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			called = true
			return nil, nil
		},
	}

	fp := NewFailoverProvider(primary, []domain.LLMProvider{fallback}, slog.Default())
	_, err := fp.Chat(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestFailoverName(t *testing.T) {
	fp := NewFailoverProvider(replying("openai", ""), nil, slog.Default())
	assert.Equal(t, "openai+failover", fp.Name())
}
