package store

import (
	"fmt"

	"imgsearch/internal/domain"
)

// Validation shared by every VectorStore implementation so they fail the same way.

// ValidateSchema checks a requested collection schema.
func ValidateSchema(name string, dim int, metric domain.Metric) error {
	if name == "" {
		return fmt.Errorf("collection name is required: %w", domain.ErrConfig)
	}
	if dim <= 0 {
		return fmt.Errorf("collection %s: dimension must be positive, got %d: %w", name, dim, domain.ErrConfig)
	}
	if metric != domain.MetricCosine {
		return fmt.Errorf("collection %s: unsupported metric %q: %w", name, metric, domain.ErrConfig)
	}
	return nil
}

// CheckSchema compares an existing collection against a requested schema.
func CheckSchema(existing domain.Collection, dim int, metric domain.Metric) error {
	if existing.Dimension != dim || existing.Metric != metric {
		return fmt.Errorf("collection %s exists with dim=%d metric=%s, requested dim=%d metric=%s: %w",
			existing.Name, existing.Dimension, existing.Metric, dim, metric, domain.ErrSchemaConflict)
	}
	return nil
}

// ValidateRecord checks a record against the collection schema.
func ValidateRecord(schema domain.Collection, r domain.Record) error {
	if r.Document.ID == "" {
		return fmt.Errorf("document id is required: %w", domain.ErrStore)
	}
	if len(r.Vector) != schema.Dimension {
		return fmt.Errorf("document %s: expected %d, got %d: %w",
			r.Document.ID, schema.Dimension, len(r.Vector), domain.ErrDimensionMismatch)
	}
	if !domain.Finite(r.Vector) {
		return fmt.Errorf("document %s: non-finite component: %w", r.Document.ID, domain.ErrInvalidVector)
	}
	return nil
}

// ValidateQuery checks a search request against the collection schema.
func ValidateQuery(schema domain.Collection, query []float32, topN int) error {
	if len(query) != schema.Dimension {
		return fmt.Errorf("query: expected %d, got %d: %w", schema.Dimension, len(query), domain.ErrDimensionMismatch)
	}
	if !domain.Finite(query) {
		return fmt.Errorf("query: non-finite component: %w", domain.ErrInvalidVector)
	}
	if topN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d: %w", topN, domain.ErrStore)
	}
	return nil
}
