package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
	"askverse/internal/infra/tracer"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat completions API, so it serves OpenAI and
// any compatible gateway.
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = openaiDefaultBaseURL
	}
	return &OpenAIProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: base,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (resp *domain.ChatResponse, err error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat", trace.WithAttributes(
		tracer.StringAttr("llm.provider", p.name),
		tracer.StringAttr("llm.model", req.Model),
	))
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			setUsageAttrs(span, resp.Usage)
			tracer.SetOK(span)
		}
		span.End()
	}()

	payload, err := json.Marshal(newOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}
	raw, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", payload, headers)
	if err != nil {
		return nil, err
	}

	var out openaiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrLLMResponse, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", domain.ErrLLMResponse)
	}

	resp = out.toDomain()
	logChatCompleted(p.logger, p.name, resp)
	return resp, nil
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	// Always sent: 0 matters for scoring prompts and the API default is 1.
	Temperature    *float64 `json:"temperature"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
}

func newOpenAIRequest(req domain.ChatRequest) openaiRequest {
	temp := req.Temperature
	out := openaiRequest{
		Model:       req.Model,
		Messages:    make([]openaiMessage, len(req.Messages)),
		Temperature: &temp,
		MaxTokens:   max(req.MaxTokens, 0),
	}
	for i, m := range req.Messages {
		out.Messages[i] = openaiMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}
	if req.JSONMode {
		out.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}
	return out
}

func (r openaiResponse) toDomain() *domain.ChatResponse {
	created := time.Unix(r.Created, 0)
	msg := r.Choices[0].Message
	return &domain.ChatResponse{
		ID:    r.ID,
		Model: r.Model,
		Usage: r.Usage,
		Message: domain.Message{
			Role:      msg.Role,
			Content:   msg.Content,
			Name:      msg.Name,
			Timestamp: created,
		},
		CreatedAt: created,
	}
}
