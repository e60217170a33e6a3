package port

import "context"

// Embedder maps images and text into one shared vector space.
// Returned vectors are L2-normalized and have length Dimension().
type Embedder interface {
	// EmbedImage embeds the image file at path.
	EmbedImage(ctx context.Context, path string) ([]float32, error)

	// EmbedImageBytes embeds an encoded image held in memory.
	EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error)

	// EmbedText embeds a text query.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// HealthChecker is implemented by embedders backed by a remote model.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
