// Package reasoning renders the prompt catalogue and talks to the configured
// LLM provider. Every agent and the orchestrator go through an Engine.
package reasoning

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"askverse/internal/domain"
)

// Prompt names one template in the catalogue.
type Prompt string

const (
	PromptDecompose      Prompt = "decompose"
	PromptConfidence     Prompt = "confidence"
	PromptMaskPII        Prompt = "mask_pii"
	PromptDocumentAnswer Prompt = "document_answer"
	PromptAPIParams      Prompt = "api_params"
	PromptAPIAnswer      Prompt = "api_answer"
	PromptTransform      Prompt = "transform"
	PromptAggregate      Prompt = "aggregate"
)

// DefaultSystemPrompt is sent before every rendered prompt unless the prompt
// has its own system message.
const DefaultSystemPrompt = "You are a helpful AI assistant."

var systemPrompts = map[Prompt]string{
	PromptDecompose: "You are a query orchestrator that decomposes complex queries into sub-tasks.",
}

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Config tunes the requests an Engine sends.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Engine renders prompts and sends them to an LLM provider.
type Engine struct {
	provider  domain.LLMProvider
	cfg       Config
	templates *template.Template
	logger    *slog.Logger
}

// NewEngine parses the embedded prompt catalogue.
func NewEngine(provider domain.LLMProvider, cfg Config, logger *slog.Logger) (*Engine, error) {
	tmpl, err := template.New("prompts").
		Funcs(template.FuncMap{"json": toJSON}).
		ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return &Engine{provider: provider, cfg: cfg, templates: tmpl, logger: logger}, nil
}

// Render executes the named prompt template with vars.
func (e *Engine) Render(p Prompt, vars any) (string, error) {
	t := e.templates.Lookup(string(p) + ".tmpl")
	if t == nil {
		return "", domain.NewDomainError("reasoning.Render", domain.ErrInvalidInput, "unknown prompt "+string(p))
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p, err)
	}
	return buf.String(), nil
}

// Complete renders p, sends it and returns the trimmed reply.
func (e *Engine) Complete(ctx context.Context, p Prompt, vars any) (string, error) {
	return e.complete(ctx, p, vars, false)
}

// CompleteJSON renders p and decodes the reply into out. The first JSON
// value in the reply is validated against schema when one is given. Every
// decoding failure wraps domain.ErrLLMResponse.
func (e *Engine) CompleteJSON(ctx context.Context, p Prompt, vars any, schema *Schema, out any) error {
	raw, err := e.complete(ctx, p, vars, true)
	if err != nil {
		return err
	}
	value, err := ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("%s reply: %w: %v", p, domain.ErrLLMResponse, err)
	}
	if schema != nil {
		var doc any
		if err := json.Unmarshal(value, &doc); err != nil {
			return fmt.Errorf("%s reply: %w: %v", p, domain.ErrLLMResponse, err)
		}
		if err := schema.Validate(doc); err != nil {
			return fmt.Errorf("%s reply: %w: %v", p, domain.ErrLLMResponse, err)
		}
	}
	if err := json.Unmarshal(value, out); err != nil {
		return fmt.Errorf("%s reply: %w: %v", p, domain.ErrLLMResponse, err)
	}
	return nil
}

func (e *Engine) complete(ctx context.Context, p Prompt, vars any, jsonMode bool) (string, error) {
	user, err := e.Render(p, vars)
	if err != nil {
		return "", err
	}
	system := DefaultSystemPrompt
	if s, ok := systemPrompts[p]; ok {
		system = s
	}
	resp, err := e.provider.Chat(ctx, domain.ChatRequest{
		Model: e.cfg.Model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: user},
		},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		JSONMode:    jsonMode,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	e.logger.Debug("llm completion",
		"prompt", string(p),
		"provider", e.provider.Name(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Message.Content), nil
}

func toJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
