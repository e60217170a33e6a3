package port

import (
	"context"

	"imgsearch/internal/domain"
)

// VectorStore stores document embeddings in named collections and
// answers nearest-neighbor queries.
type VectorStore interface {
	// EnsureCollection creates the collection if absent. An existing
	// collection with a different schema is a config error.
	EnsureCollection(ctx context.Context, name string, dim int, metric domain.Metric) error

	// UpsertOne writes a single document; an existing id is overwritten.
	UpsertOne(ctx context.Context, collection string, doc domain.Document, vector []float32) error

	// UpsertMany writes all records or none.
	UpsertMany(ctx context.Context, collection string, records []domain.Record) error

	// Search returns at most topN hits by descending similarity.
	Search(ctx context.Context, collection string, query []float32, topN int) ([]domain.Hit, error)

	// Get returns a stored document by id.
	Get(ctx context.Context, collection, id string) (domain.Document, error)

	// List returns every document of the collection.
	List(ctx context.Context, collection string) ([]domain.Document, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}
