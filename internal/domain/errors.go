package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the core wraps exactly one of these.
var (
	// ErrInput signals a bad or missing file or malformed text.
	ErrInput = errors.New("input error")
	// ErrModel signals an inference or model backend failure.
	ErrModel = errors.New("model error")
	// ErrStore signals a vector store failure.
	ErrStore = errors.New("store error")
	// ErrConfig signals an invalid setup.
	ErrConfig = errors.New("config error")
)

// Specific conditions, each wrapping its kind.
var (
	ErrEmptyText          = fmt.Errorf("empty text: %w", ErrInput)
	ErrUnreadableImage    = fmt.Errorf("unreadable image: %w", ErrInput)
	ErrCollectionNotFound = fmt.Errorf("collection not found: %w", ErrStore)
	ErrDimensionMismatch  = fmt.Errorf("vector dimension mismatch: %w", ErrStore)
	ErrDocumentNotFound   = fmt.Errorf("document not found: %w", ErrStore)
	ErrInvalidVector      = fmt.Errorf("invalid vector: %w", ErrStore)
	ErrNotReady           = fmt.Errorf("collection not initialized: %w", ErrStore)
	ErrSchemaConflict     = fmt.Errorf("collection schema conflict: %w", ErrConfig)
)

// Kind returns the error kind wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrInput, ErrModel, ErrStore, ErrConfig} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
