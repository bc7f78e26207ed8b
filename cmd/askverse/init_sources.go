package main

import (
	"fmt"

	"askverse/internal/adapter/confluence"
	"askverse/internal/adapter/embedding"
	"askverse/internal/adapter/openapi"
	"askverse/internal/adapter/vectorstore"
	"askverse/internal/infra/logger"
)

// SourceComponents holds the knowledge sources agents draw from.
type SourceComponents struct {
	Vectors    *vectorstore.Store
	Confluence *confluence.Client // nil when disabled
	APIs       *openapi.Directory
	Invoker    *openapi.Invoker
}

// initSources opens the vector index and connects to Confluence and the
// API directory.
func initSources(rt *Runtime) (*SourceComponents, error) {
	cfg := rt.Config

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if embedder == nil {
		rt.Logger.Info("embeddings disabled, document search is keyword only")
	}

	vectors, err := vectorstore.New(cfg.Vector.Path, embedder, logger.Component(rt.Logger, "vectorstore"),
		vectorstore.Options{BatchSize: cfg.Vector.BatchSize})
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	rt.onClose(vectors.Close)

	sc := &SourceComponents{Vectors: vectors}
	if cfg.Confluence.Enabled {
		sc.Confluence = confluence.New(cfg.Confluence, logger.Component(rt.Logger, "confluence"))
	}

	sc.APIs = openapi.NewDirectory(cfg.OpenAPI.MaxEndpoints, logger.Component(rt.Logger, "openapi"))
	if err := sc.APIs.Load(cfg.OpenAPI.SpecsDir); err != nil {
		return nil, err
	}
	sc.Invoker = openapi.NewInvoker(cfg.OpenAPI, logger.Component(rt.Logger, "openapi"))

	rt.Logger.Info("sources initialized",
		"confluence", sc.Confluence != nil,
		"api_specs", len(sc.APIs.Specs()),
		"endpoints", len(sc.APIs.List()))
	return sc, nil
}
