// Package docsync mirrors wiki pages into the vector index and records each
// run in the repository.
package docsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"askverse/internal/domain"
	"askverse/internal/infra/tracer"
)

const (
	defaultConcurrency = 4
	defaultBatchSize   = 32
)

// Options tunes a sync run.
type Options struct {
	// Concurrency bounds parallel page fetches.
	Concurrency int
	// BatchSize is the number of documents upserted into the index at once.
	BatchSize int
	// Timeout bounds background runs started by Trigger. Zero means none.
	Timeout time.Duration
}

// Report summarises a finished run.
type Report struct {
	Record *domain.SyncRecord
	Total  int
}

// Service runs document syncs. At most one run is in flight at a time.
type Service struct {
	source  domain.PageSource
	index   domain.DocumentIndex
	repo    domain.Repository
	opts    Options
	logger  *slog.Logger
	running atomic.Bool
	now     func() time.Time
}

// NewService creates a sync Service.
func NewService(source domain.PageSource, index domain.DocumentIndex, repo domain.Repository, opts Options, logger *slog.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Service{
		source: source,
		index:  index,
		repo:   repo,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool { return s.running.Load() }

// Trigger starts a run in the background. It returns ErrSyncRunning when a
// run is already in progress. The run outlives ctx's cancellation.
func (s *Service) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return domain.NewDomainError("docsync.Trigger", domain.ErrSyncRunning, "")
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.running.Store(false)
		var cancel context.CancelFunc = func() {}
		if s.opts.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(runCtx, s.opts.Timeout)
		}
		defer cancel()
		if _, err := s.run(runCtx); err != nil {
			s.logger.Error("background sync failed", "error", err)
		}
	}()
	return nil
}

// Run performs one sync and waits for it. Per-page failures are recorded
// in the run's error log; only structural failures are returned.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.NewDomainError("docsync.Run", domain.ErrSyncRunning, "")
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) (report *Report, err error) {
	ctx, span := tracer.StartSpan(ctx, "docsync.run")
	defer span.End()

	rec := &domain.SyncRecord{StartedAt: s.now().UTC(), Status: domain.SyncRunning}
	if err := s.repo.StartSync(ctx, rec); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("docsync.run", err)
	}
	s.logger.Info("document sync started", "sync_id", rec.ID)

	defer func() {
		finished := s.now().UTC()
		rec.FinishedAt = &finished
		rec.Status = domain.SyncCompleted
		if err != nil {
			rec.Status = domain.SyncFailed
			rec.ErrorLog = append(rec.ErrorLog, err.Error())
			tracer.RecordError(span, err)
		}
		// The run context may be cancelled; the record still has to close.
		if ferr := s.repo.FinishSync(context.WithoutCancel(ctx), rec); ferr != nil {
			s.logger.Error("finish sync record failed", "sync_id", rec.ID, "error", ferr)
		}
		span.SetAttributes(
			tracer.IntAttr("docsync.processed", rec.DocumentsProcessed),
			tracer.IntAttr("docsync.failed", rec.DocumentsFailed),
		)
		s.logger.Info("document sync finished",
			"sync_id", rec.ID,
			"status", string(rec.Status),
			"processed", rec.DocumentsProcessed,
			"failed", rec.DocumentsFailed,
			"duration", finished.Sub(rec.StartedAt),
		)
	}()

	pages, err := s.source.ListPages(ctx)
	if err != nil {
		return nil, domain.WrapOp("docsync.run", err)
	}

	docs, failures := s.fetch(ctx, pages)
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapOp("docsync.run", err)
	}
	rec.ErrorLog = append(rec.ErrorLog, failures...)
	rec.DocumentsFailed = len(failures)

	for start := 0; start < len(docs); start += s.opts.BatchSize {
		batch := docs[start:min(start+s.opts.BatchSize, len(docs))]
		if err := s.index.Upsert(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil, domain.WrapOp("docsync.run", ctx.Err())
			}
			for _, d := range batch {
				rec.ErrorLog = append(rec.ErrorLog, fmt.Sprintf("%s: index: %v", d.ID, err))
			}
			rec.DocumentsFailed += len(batch)
			continue
		}
		for _, d := range batch {
			if err := s.repo.UpsertDocumentMeta(ctx, s.meta(d)); err != nil {
				rec.ErrorLog = append(rec.ErrorLog, fmt.Sprintf("%s: metadata: %v", d.ID, err))
				rec.DocumentsFailed++
				continue
			}
			rec.DocumentsProcessed++
		}
	}
	tracer.SetOK(span)
	return &Report{Record: rec, Total: len(pages)}, nil
}

// fetch loads page bodies in parallel. Results keep listing order.
func (s *Service) fetch(ctx context.Context, pages []domain.PageRef) ([]domain.Document, []string) {
	fetched := make([]*domain.Document, len(pages))
	var (
		mu       sync.Mutex
		failures []string
	)

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, p := range pages {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			doc, err := s.source.GetPage(ctx, p.ID)
			if err != nil {
				s.logger.Warn("page fetch failed", "page_id", p.ID, "title", p.Title, "error", err)
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: fetch: %v", p.ID, err))
				mu.Unlock()
				return nil
			}
			fetched[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	docs := make([]domain.Document, 0, len(pages))
	for _, d := range fetched {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs, failures
}

func (s *Service) meta(d domain.Document) *domain.DocumentMeta {
	source := d.Source
	if source == "" {
		source = domain.SourceConfluence
	}
	return &domain.DocumentMeta{
		ID:        d.ID,
		Title:     d.Title,
		Source:    source,
		URL:       d.URL,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
		SyncedAt:  s.now().UTC(),
	}
}

// Cleanup removes documents not synced within the last days days from both
// the index and the repository. It returns the number removed.
func (s *Service) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, domain.NewDomainError("docsync.Cleanup", domain.ErrInvalidInput, "days must be > 0")
	}
	ctx, span := tracer.StartSpan(ctx, "docsync.cleanup")
	defer span.End()

	cutoff := s.now().UTC().AddDate(0, 0, -days)
	stale, err := s.repo.DocumentsSyncedBefore(ctx, cutoff)
	if err != nil {
		tracer.RecordError(span, err)
		return 0, domain.WrapOp("docsync.Cleanup", err)
	}
	if len(stale) == 0 {
		tracer.SetOK(span)
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, m := range stale {
		ids[i] = m.ID
	}
	if err := s.index.Delete(ctx, ids); err != nil {
		tracer.RecordError(span, err)
		return 0, domain.WrapOp("docsync.Cleanup", err)
	}
	if err := s.repo.DeleteDocumentMeta(ctx, ids); err != nil {
		tracer.RecordError(span, err)
		return 0, domain.WrapOp("docsync.Cleanup", err)
	}
	span.SetAttributes(tracer.IntAttr("docsync.removed", len(ids)))
	tracer.SetOK(span)
	s.logger.Info("stale documents removed", "count", len(ids), "cutoff", cutoff)
	return len(ids), nil
}
