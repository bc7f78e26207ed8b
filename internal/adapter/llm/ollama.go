package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

// Local server: connecting is quick, the first reply may wait on a model load.
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
	ollamaDefaultBaseURL     = "http://localhost:11434"
)

// OllamaProvider chats through Ollama's OpenAI-compatible /v1 routes and uses
// the native API for health checks and model preloading.
type OllamaProvider struct {
	*OpenAIProvider
	baseURL string
}

var (
	_ domain.LLMProvider = (*OllamaProvider)(nil)
	_ Warmer             = (*OllamaProvider)(nil)
)

func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	cfg.ConnTimeout = orDefault(cfg.ConnTimeout, ollamaDefaultConnTimeout)
	cfg.RespTimeout = orDefault(cfg.RespTimeout, ollamaDefaultRespTimeout)

	base := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if base == "" {
		base = ollamaDefaultBaseURL
	}
	cfg.BaseURL = base + "/v1"
	cfg.APIKey = ""

	return &OllamaProvider{
		OpenAIProvider: NewOpenAIProvider(cfg, logger),
		baseURL:        base,
	}
}

// IsHealthy reports whether the server answers on its root path.
func (p *OllamaProvider) IsHealthy(ctx context.Context) bool {
	status, err := p.native(ctx, http.MethodGet, "/", "")
	return err == nil && status == http.StatusOK
}

// Warmup asks the server to load the model and keep it resident for five
// minutes.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if !p.IsHealthy(ctx) {
		return fmt.Errorf("ollama server not reachable at %s", p.baseURL)
	}
	p.logger.Info("preloading ollama model", "model", p.model, "base_url", p.baseURL)

	status, err := p.native(ctx, http.MethodPost, "/api/generate",
		fmt.Sprintf(`{"model":%q,"keep_alive":"5m"}`, p.model))
	if err != nil {
		return fmt.Errorf("warmup request: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("warmup failed: status %d", status)
	}
	return nil
}

func (p *OllamaProvider) native(ctx context.Context, method, path, body string) (int, error) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
