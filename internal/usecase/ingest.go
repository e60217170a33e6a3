package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"imgsearch/internal/adapter/fs"
	"imgsearch/internal/domain"
	"imgsearch/internal/metrics"
	"imgsearch/internal/port"
)

// IngestResult contains the results of an ingestion run.
type IngestResult struct {
	Discovered int
	Ingested   int
	Skipped    int
	Failed     int
	Failures   []IngestFailure
	Duration   time.Duration
}

// IngestFailure records one image that could not be embedded.
type IngestFailure struct {
	Path string
	Err  error
}

// ProgressFunc is called after each file is processed.
type ProgressFunc func(processed, total int, currentFile string)

// IngestDirectory embeds every image under dir whose extension matches and
// stores it under a fresh id with its path as payload. extensions falls back
// to the configured list.
func (s *Service) IngestDirectory(ctx context.Context, dir string, extensions []string, progress ProgressFunc) (*IngestResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	result := &IngestResult{}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %v: %w", dir, err, domain.ErrInput)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest %s: not a directory: %w", dir, domain.ErrInput)
	}

	if len(extensions) == 0 {
		extensions = s.opts.Extensions
	}
	var walker port.FileWalker = fs.NewWalker(extensions, s.opts.Excludes)
	files, err := walker.Walk(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %v: %w", err, domain.ErrInput)
	}
	result.Discovered = len(files)

	pending, err := s.filterExisting(ctx, files, result)
	if err != nil {
		return nil, err
	}

	defer func() {
		result.Duration = time.Since(start)
		if result.Ingested > 0 && s.cache != nil {
			s.cache.Invalidate()
		}
		metrics.IngestDocumentsTotal.WithLabelValues("ingested").Add(float64(result.Ingested))
		metrics.IngestDocumentsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	}()

	tracker := &progressTracker{total: len(pending), fn: progress}
	for offset := 0; offset < len(pending); offset += s.opts.BatchSize {
		end := min(offset+s.opts.BatchSize, len(pending))

		records, err := s.embedBatch(ctx, pending[offset:end], result, tracker)
		if err != nil {
			s.logger.Error("Ingestion aborted",
				zap.String("dir", dir),
				zap.Int("ingested", result.Ingested),
				zap.Error(err),
			)
			return result, err
		}
		if len(records) == 0 {
			continue
		}
		if err := s.store.UpsertMany(ctx, s.opts.Collection, records); err != nil {
			return result, fmt.Errorf("store batch at offset %d: %w", offset, err)
		}
		result.Ingested += len(records)
	}

	s.logger.Info("Ingestion complete",
		zap.String("dir", dir),
		zap.Int("discovered", result.Discovered),
		zap.Int("ingested", result.Ingested),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// filterExisting drops files whose path is already stored when skip-existing is on.
func (s *Service) filterExisting(ctx context.Context, files []port.FileInfo, result *IngestResult) ([]port.FileInfo, error) {
	if !s.opts.SkipExisting {
		return files, nil
	}
	docs, err := s.store.List(ctx, s.opts.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing documents: %w", err)
	}
	existing := make(map[string]bool, len(docs))
	for _, doc := range docs {
		existing[doc.ImagePath] = true
	}

	pending := make([]port.FileInfo, 0, len(files))
	for _, f := range files {
		if existing[f.Path] {
			result.Skipped++
			continue
		}
		pending = append(pending, f)
	}
	return pending, nil
}

// embedBatch embeds files concurrently. Under FailFast the first failure
// cancels the batch and nothing from it is returned.
func (s *Service) embedBatch(ctx context.Context, files []port.FileInfo, result *IngestResult, tracker *progressTracker) ([]domain.Record, error) {
	slots := make([]*domain.Record, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for i, f := range files {
		g.Go(func() error {
			vec, err := s.embedder.EmbedImage(gctx, f.Path)
			tracker.done(f.Path)
			if err != nil {
				if gctx.Err() != nil || s.opts.OnError == FailFast {
					return fmt.Errorf("embed %s: %w", f.Path, err)
				}
				s.logger.Warn("Skipping image", zap.String("path", f.Path), zap.Error(err))
				mu.Lock()
				result.Failed++
				result.Failures = append(result.Failures, IngestFailure{Path: f.Path, Err: err})
				mu.Unlock()
				return nil
			}
			slots[i] = &domain.Record{
				Document: domain.Document{ID: uuid.NewString(), ImagePath: f.Path},
				Vector:   vec,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if s.opts.OnError == FailFast && ctx.Err() == nil {
			result.Failed++
		}
		return nil, err
	}

	records := make([]domain.Record, 0, len(files))
	for _, r := range slots {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records, nil
}

// IngestFile embeds and stores a single image with optional metadata.
func (s *Service) IngestFile(ctx context.Context, path string, metadata map[string]string) (domain.Document, error) {
	if err := s.ready(); err != nil {
		return domain.Document{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("invalid path %s: %v: %w", path, err, domain.ErrInput)
	}

	vec, err := s.embedder.EmbedImage(ctx, abs)
	if err != nil {
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
		return domain.Document{}, err
	}

	doc := domain.Document{ID: uuid.NewString(), ImagePath: abs, Metadata: metadata}
	if err := s.store.UpsertOne(ctx, s.opts.Collection, doc, vec); err != nil {
		return domain.Document{}, err
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	metrics.IngestDocumentsTotal.WithLabelValues("ingested").Inc()
	return doc, nil
}

type progressTracker struct {
	mu        sync.Mutex
	processed int
	total     int
	fn        ProgressFunc
}

func (p *progressTracker) done(path string) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	p.fn(p.processed, p.total, path)
}
