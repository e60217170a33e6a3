package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"imgsearch/internal/domain"
)

// MockEmbedder returns deterministic unit vectors seeded by a hash of the input.
// Identical inputs map to identical vectors; nothing else is meaningful.
type MockEmbedder struct {
	dimension    int
	maxTextRunes int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension, maxTextRunes: DefaultMaxTextRunes}
}

func (e *MockEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	return e.EmbedImageBytes(ctx, data)
}

func (e *MockEmbedder) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.ErrUnreadableImage
	}
	return e.vector("image", data), nil
}

func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := PrepareText(text, e.maxTextRunes)
	if err != nil {
		return nil, err
	}
	return e.vector("text", []byte(text)), nil
}

func (e *MockEmbedder) vector(kind string, data []byte) []float32 {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write(data)
	sum := h.Sum(nil)

	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
	vec := make([]float32, e.dimension)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	return domain.Normalize(vec)
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
