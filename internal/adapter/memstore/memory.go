package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
)

// MemoryStore is a process-local VectorStore. Nothing survives Close.
type MemoryStore struct {
	mu          sync.RWMutex
	schemas     map[string]domain.Collection
	collections map[string]map[string]domain.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemas:     make(map[string]domain.Collection),
		collections: make(map[string]map[string]domain.Record),
	}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dim int, metric domain.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateSchema(name, dim, metric); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.schemas[name]; ok {
		return store.CheckSchema(existing, dim, metric)
	}
	s.schemas[name] = domain.Collection{
		Name:      name,
		Dimension: dim,
		Metric:    metric,
		CreatedAt: time.Now(),
	}
	s.collections[name] = make(map[string]domain.Record)
	return nil
}

func (s *MemoryStore) UpsertOne(ctx context.Context, name string, doc domain.Document, vector []float32) error {
	return s.UpsertMany(ctx, name, []domain.Record{{Document: doc, Vector: vector}})
}

func (s *MemoryStore) UpsertMany(ctx context.Context, name string, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	for _, r := range records {
		if err := store.ValidateRecord(schema, r); err != nil {
			return err
		}
	}

	entries := s.collections[name]
	for _, r := range records {
		entries[r.Document.ID] = domain.Record{
			Document: domain.DocumentFromPayload(r.Document.ID, r.Document.Payload()),
			Vector:   append([]float32(nil), r.Vector...),
		}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, name string, query []float32, topN int) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	if err := store.ValidateQuery(schema, query, topN); err != nil {
		return nil, err
	}

	entries := s.collections[name]
	hits := make([]domain.Hit, 0, len(entries))
	for id, r := range entries {
		hits = append(hits, domain.Hit{
			ID:        id,
			ImagePath: r.Document.ImagePath,
			Score:     domain.CosineSimilarity(query, r.Vector),
			Payload:   r.Document.Payload(),
		})
	}
	return domain.TopHits(hits, topN), nil
}

func (s *MemoryStore) Get(ctx context.Context, name, id string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.collections[name]
	if !ok {
		return domain.Document{}, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	r, ok := entries[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("%s: %w", id, domain.ErrDocumentNotFound)
	}
	return r.Document, nil
}

func (s *MemoryStore) List(ctx context.Context, name string) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	docs := make([]domain.Document, 0, len(entries))
	for _, r := range entries {
		docs = append(docs, r.Document)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) Count(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	return len(entries), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
