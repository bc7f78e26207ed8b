package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"askverse/internal/adapter/store"
	"askverse/internal/domain"
	"askverse/internal/infra/config"
	"askverse/internal/infra/logger"
	"askverse/internal/infra/tracer"
)

// Runtime holds the ambient components every command needs.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Repo   domain.Repository

	closers []func() error
}

// initRuntime loads config and opens logging, tracing and the repository.
func initRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: log}
	rt.onClose(closeLog)

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.onClose(func() error { return shutdownTracer(context.Background()) })

	repo, err := store.Open(cfg.Database)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.Repo = repo
	rt.onClose(repo.Close)

	log.Debug("runtime initialized", "database", cfg.Database.Driver, "tracer", cfg.Tracer.Exporter)
	return rt, nil
}

func (rt *Runtime) onClose(fn func() error) { rt.closers = append(rt.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
