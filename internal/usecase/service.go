package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"imgsearch/internal/adapter/cache"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// State is the lifecycle state of a Service.
type State int

const (
	StateUninitialized State = iota
	StateCollectionReady
	StateServing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCollectionReady:
		return "collection_ready"
	case StateServing:
		return "serving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FailurePolicy decides what ingestion does when one image fails to embed.
type FailurePolicy string

const (
	// FailFast stops ingestion at the first failure. Batches already
	// written stay written.
	FailFast FailurePolicy = "abort"
	// SkipFailed logs and records failures and continues.
	SkipFailed FailurePolicy = "skip"
)

// Options configures a Service.
type Options struct {
	Collection  string
	DefaultTopN int
	MinScore    float64 // 0 = disabled

	Extensions   []string
	Excludes     []string
	Workers      int
	BatchSize    int
	OnError      FailurePolicy
	SkipExisting bool
}

// Service ingests images and answers text-to-image and image-to-image queries.
type Service struct {
	store    port.VectorStore
	embedder port.Embedder
	cache    *cache.QueryCache
	opts     Options
	logger   *zap.Logger

	mu    sync.RWMutex
	state State
}

// NewService creates a retrieval service. cache may be nil.
func NewService(
	store port.VectorStore,
	embedder port.Embedder,
	queryCache *cache.QueryCache,
	opts Options,
	logger *zap.Logger,
) *Service {
	if opts.DefaultTopN <= 0 {
		opts.DefaultTopN = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.OnError == "" {
		opts.OnError = FailFast
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		embedder: embedder,
		cache:    queryCache,
		opts:     opts,
		logger:   logger,
	}
}

// Init ensures the collection exists with the embedder's dimension and the
// cosine metric. Safe to call on every startup.
func (s *Service) Init(ctx context.Context) error {
	err := s.store.EnsureCollection(ctx, s.opts.Collection, s.embedder.Dimension(), domain.MetricCosine)
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", s.opts.Collection, err)
	}

	s.mu.Lock()
	if s.state == StateUninitialized {
		s.state = StateCollectionReady
	}
	s.mu.Unlock()

	s.logger.Info("Collection ready",
		zap.String("collection", s.opts.Collection),
		zap.Int("dimension", s.embedder.Dimension()),
		zap.String("model", s.embedder.ModelName()),
	)
	return nil
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) ready() error {
	if s.State() == StateUninitialized {
		return domain.ErrNotReady
	}
	return nil
}

func (s *Service) markServing() {
	s.mu.Lock()
	if s.state == StateCollectionReady {
		s.state = StateServing
	}
	s.mu.Unlock()
}

// Info summarizes the collection.
type Info struct {
	Collection string `json:"collection"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	Documents  int    `json:"documents"`
	State      string `json:"state"`
}

func (s *Service) Info(ctx context.Context) (Info, error) {
	info := Info{
		Collection: s.opts.Collection,
		Model:      s.embedder.ModelName(),
		Dimension:  s.embedder.Dimension(),
		State:      s.State().String(),
	}
	if err := s.ready(); err != nil {
		return info, err
	}
	n, err := s.store.Count(ctx, s.opts.Collection)
	if err != nil {
		return info, err
	}
	info.Documents = n
	return info, nil
}

// Document returns a stored document by id.
func (s *Service) Document(ctx context.Context, id string) (domain.Document, error) {
	if err := s.ready(); err != nil {
		return domain.Document{}, err
	}
	return s.store.Get(ctx, s.opts.Collection, id)
}

// HealthCheck probes the model backend when it supports probing.
func (s *Service) HealthCheck(ctx context.Context) error {
	if hc, ok := s.embedder.(port.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
