package main

import (
	"context"
	"fmt"

	"askverse/internal/adapter/llm"
	"askverse/internal/adapter/openapi"
	"askverse/internal/domain"
	"askverse/internal/infra/logger"
	"askverse/internal/usecase/agent"
	"askverse/internal/usecase/confidence"
	"askverse/internal/usecase/orchestrator"
	"askverse/internal/usecase/privacy"
	"askverse/internal/usecase/reasoning"
)

const tokenEncoding = "cl100k_base"

// initOrchestrator builds the LLM stack, the three agents and the
// orchestrator that coordinates them. Local models are preloaded in the
// background.
func initOrchestrator(ctx context.Context, rt *Runtime, sc *SourceComponents) (*orchestrator.Orchestrator, error) {
	cfg := rt.Config

	llmLog := logger.Component(rt.Logger, "llm")
	registry, provider, err := llm.Build(cfg.LLM, llmLog)
	if err != nil {
		return nil, err
	}
	go registry.Warmup(ctx, llmLog)

	model := ""
	if pc, ok := cfg.Provider(cfg.LLM.DefaultProvider); ok {
		model = pc.Model
	}
	engine, err := reasoning.NewEngine(provider, reasoning.Config{
		Model:       model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger.Component(rt.Logger, "reasoning"))
	if err != nil {
		return nil, fmt.Errorf("reasoning engine: %w", err)
	}

	deps := agent.Deps{
		Engine:            engine,
		Budget:            reasoning.NewBudget(tokenEncoding, rt.Logger),
		Scorer:            confidence.NewEstimator(engine, logger.Component(rt.Logger, "confidence")),
		Masker:            privacy.NewMasker(engine, cfg.Privacy.LLMPass, logger.Component(rt.Logger, "privacy")),
		Logger:            logger.Component(rt.Logger, "agent"),
		MaxEvidenceTokens: cfg.Orchestrator.MaxEvidenceTokens,
	}

	backends := []agent.Backend{{Name: domain.SourceVector, Searcher: sc.Vectors}}
	if sc.Confluence != nil {
		backends = append(backends, agent.Backend{
			Name:     domain.SourceConfluence,
			Searcher: sc.Confluence,
			Limit:    cfg.Confluence.SearchLimit,
		})
	}
	search := agent.NewDocumentSearch(deps.Logger, backends...)

	agents := []domain.Agent{
		agent.NewDocumentAgent(search, cfg.Vector.TopK, deps),
		agent.NewAPIAgent(sc.APIs, sc.Invoker, openapi.ValidateParams, deps),
		agent.NewDataAgent(deps),
	}
	return orchestrator.New(engine, agents, orchestrator.Config{
		MaxParallel:  cfg.Orchestrator.MaxParallel,
		AgentTimeout: cfg.Orchestrator.AgentTimeout,
	}, logger.Component(rt.Logger, "orchestrator"))
}
