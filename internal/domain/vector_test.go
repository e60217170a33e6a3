package domain

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(Norm(v)-1) > 1e-6 {
		t.Errorf("expected unit norm, got %f", Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected components: %v", v)
	}

	zero := Normalize([]float32{0, 0, 0})
	if Norm(zero) != 0 {
		t.Errorf("zero vector should stay zero, got %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"parallel", []float32{1, 0}, []float32{2, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched", []float32{1, 0}, []float32{1}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestTopHits(t *testing.T) {
	hits := []Hit{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.9},
		{ID: "d", Score: 0.5},
		{ID: "c", Score: 0.1},
	}
	top := TopHits(hits, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(top))
	}
	want := []string{"a", "b", "d"}
	for i, id := range want {
		if top[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, top[i].ID)
		}
	}
}

func TestFinite(t *testing.T) {
	if !Finite([]float32{1, 2}) {
		t.Error("expected finite")
	}
	if Finite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN should not be finite")
	}
	if Finite([]float32{float32(math.Inf(1))}) {
		t.Error("Inf should not be finite")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := Document{ID: "x", ImagePath: "/img/cat.png", Metadata: map[string]string{"source": "test"}}
	got := DocumentFromPayload("x", doc.Payload())
	if got.ImagePath != doc.ImagePath || got.Metadata["source"] != "test" {
		t.Errorf("unexpected document: %+v", got)
	}
	if _, ok := got.Metadata[PayloadImagePath]; ok {
		t.Error("image_path must not leak into metadata")
	}
}

func TestErrorKinds(t *testing.T) {
	if !errors.Is(ErrCollectionNotFound, ErrStore) {
		t.Error("ErrCollectionNotFound should be a store error")
	}
	if !errors.Is(ErrSchemaConflict, ErrConfig) {
		t.Error("ErrSchemaConflict should be a config error")
	}
	if Kind(ErrEmptyText) != ErrInput {
		t.Errorf("expected input kind, got %v", Kind(ErrEmptyText))
	}
	if Kind(errors.New("other")) != nil {
		t.Error("plain errors carry no kind")
	}
}
