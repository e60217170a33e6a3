package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"imgsearch/internal/domain"
	"imgsearch/internal/metrics"
)

// TextToImages returns the images nearest to text, best first.
// topN <= 0 uses the configured default.
func (s *Service) TextToImages(ctx context.Context, text string, topN int) ([]domain.Hit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	topN = s.topN(topN)

	var gen uint64
	if s.cache != nil {
		gen = s.cache.Generation()
		if hits, ok := s.cache.Get(text, topN); ok {
			metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
			metrics.SearchRequestsTotal.WithLabelValues("text", "success").Inc()
			s.markServing()
			return hits, nil
		}
		metrics.QueryCacheTotal.WithLabelValues("miss").Inc()
	}

	hits, err := s.query(ctx, "text", topN, func() ([]float32, error) {
		return s.embedder.EmbedText(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(text, topN, gen, hits)
	}
	return hits, nil
}

// ImageToImages returns the stored images nearest to the image at path.
// A previously ingested query image is included in its own results.
func (s *Service) ImageToImages(ctx context.Context, path string, topN int) ([]domain.Hit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.query(ctx, "image", s.topN(topN), func() ([]float32, error) {
		return s.embedder.EmbedImage(ctx, path)
	})
}

// ImageBytesToImages is ImageToImages for an encoded image held in memory.
func (s *Service) ImageBytesToImages(ctx context.Context, data []byte, topN int) ([]domain.Hit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.query(ctx, "image", s.topN(topN), func() ([]float32, error) {
		return s.embedder.EmbedImageBytes(ctx, data)
	})
}

func (s *Service) topN(n int) int {
	if n <= 0 {
		return s.opts.DefaultTopN
	}
	return n
}

// query embeds once, searches and applies the score threshold.
func (s *Service) query(ctx context.Context, queryType string, topN int, embed func() ([]float32, error)) ([]domain.Hit, error) {
	start := time.Now()

	hits, err := s.search(ctx, topN, embed)

	duration := time.Since(start)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(queryType, "error").Inc()
		s.logger.Warn("Search failed",
			zap.String("query_type", queryType),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.SearchRequestsTotal.WithLabelValues(queryType, "success").Inc()
	metrics.SearchDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	s.markServing()

	s.logger.Debug("Search completed",
		zap.String("query_type", queryType),
		zap.Int("top_n", topN),
		zap.Int("results", len(hits)),
		zap.Duration("duration", duration),
	)
	return hits, nil
}

func (s *Service) search(ctx context.Context, topN int, embed func() ([]float32, error)) ([]domain.Hit, error) {
	vec, err := embed()
	if err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, s.opts.Collection, vec, topN)
	if err != nil {
		return nil, err
	}
	if s.opts.MinScore > 0 {
		hits = filterByThreshold(hits, s.opts.MinScore)
	}
	return hits, nil
}

// filterByThreshold removes results below the minimum score threshold.
func filterByThreshold(hits []domain.Hit, minScore float64) []domain.Hit {
	filtered := make([]domain.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= minScore {
			filtered = append(filtered, h)
		}
	}
	return filtered
}
