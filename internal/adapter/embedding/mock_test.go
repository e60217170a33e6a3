package embedding

import (
	"context"
	"image/color"
	"math"
	"testing"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

var _ port.Embedder = (*MockEmbedder)(nil)

func TestMockEmbedder_UnitVectors(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(16)

	path := writePNG(t, t.TempDir(), "cat.png", color.Black)
	img, err := e.EmbedImage(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	txt, err := e.EmbedText(ctx, "cat")
	if err != nil {
		t.Fatal(err)
	}

	for name, v := range map[string][]float32{"image": img, "text": txt} {
		if len(v) != 16 {
			t.Errorf("%s: expected 16 dimensions, got %d", name, len(v))
		}
		if math.Abs(domain.Norm(v)-1) > 1e-5 {
			t.Errorf("%s: expected unit norm, got %f", name, domain.Norm(v))
		}
	}
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(8)

	a, _ := e.EmbedText(ctx, "sunset")
	b, _ := e.EmbedText(ctx, " sunset ")
	if domain.CosineSimilarity(a, b) < 1-1e-6 {
		t.Error("same text should embed identically")
	}
	c, _ := e.EmbedText(ctx, "mountain")
	if domain.CosineSimilarity(a, c) > 1-1e-6 {
		t.Error("different text should embed differently")
	}
}
