package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

var (
	_ port.Embedder      = (*CLIPEmbedder)(nil)
	_ port.HealthChecker = (*CLIPEmbedder)(nil)
)

type embeddingCall struct {
	Model string              `json:"model"`
	Input []map[string]string `json:"input"`
}

// newModelServer serves /embeddings with a fixed raw vector and records requests.
func newModelServer(t *testing.T, vec []float32, calls *[]embeddingCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embeddings":
			var call embeddingCall
			if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
				t.Errorf("bad request body: %v", err)
			}
			if calls != nil {
				*calls = append(*calls, call)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"model":  call.Model,
				"data": []map[string]any{
					{"object": "embedding", "index": 0, "embedding": vec},
				},
			})
		case "/models":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"object":"list","data":[]}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestCLIP(url string, dim int) *CLIPEmbedder {
	return NewCLIPEmbedder(CLIPConfig{
		APIKey:       "test-key",
		BaseURL:      url,
		Model:        "test-clip",
		Dimension:    dim,
		Device:       "cpu",
		InputSize:    16,
		MaxTextRunes: 52,
		Timeout:      5 * time.Second,
		Logger:       zap.NewNop(),
	})
}

func TestCLIPEmbedder_EmbedText(t *testing.T) {
	var calls []embeddingCall
	server := newModelServer(t, []float32{3, 4, 0, 0}, &calls)
	defer server.Close()

	e := newTestCLIP(server.URL, 4)
	vec, err := e.EmbedText(context.Background(), "  a photo of a cat ")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}

	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("expected normalized vector, got %v", vec)
	}
	if len(calls) != 1 || calls[0].Input[0]["text"] != "a photo of a cat" {
		t.Errorf("unexpected request: %+v", calls)
	}
	if calls[0].Model != "test-clip" {
		t.Errorf("expected model test-clip, got %s", calls[0].Model)
	}
}

func TestCLIPEmbedder_EmbedImage(t *testing.T) {
	var calls []embeddingCall
	server := newModelServer(t, []float32{0, 0, 2, 0}, &calls)
	defer server.Close()

	e := newTestCLIP(server.URL, 4)
	path := writePNG(t, t.TempDir(), "dog.png", color.RGBA{G: 255, A: 255})

	vec, err := e.EmbedImage(context.Background(), path)
	if err != nil {
		t.Fatalf("EmbedImage failed: %v", err)
	}
	if math.Abs(domain.Norm(vec)-1) > 1e-6 {
		t.Errorf("expected unit norm, got %f", domain.Norm(vec))
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 request, got %d", len(calls))
	}
	raw, err := base64.StdEncoding.DecodeString(calls[0].Input[0]["image"])
	if err != nil {
		t.Fatalf("image input is not base64: %v", err)
	}
	if len(raw) < 8 || string(raw[1:4]) != "PNG" {
		t.Error("image input should be a PNG")
	}
}

func TestCLIPEmbedder_InputErrorsSkipModel(t *testing.T) {
	var calls []embeddingCall
	server := newModelServer(t, []float32{1, 0, 0, 0}, &calls)
	defer server.Close()

	e := newTestCLIP(server.URL, 4)
	ctx := context.Background()

	if _, err := e.EmbedText(ctx, ""); !errors.Is(err, domain.ErrInput) {
		t.Errorf("expected input error, got %v", err)
	}
	if _, err := e.EmbedImage(ctx, "/no/such/file.png"); !errors.Is(err, domain.ErrInput) {
		t.Errorf("expected input error, got %v", err)
	}
	if _, err := e.EmbedImageBytes(ctx, []byte("garbage")); !errors.Is(err, domain.ErrUnreadableImage) {
		t.Errorf("expected unreadable image, got %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("model should not be called for bad input, got %d calls", len(calls))
	}
}

func TestCLIPEmbedder_ModelErrors(t *testing.T) {
	t.Run("dimension mismatch", func(t *testing.T) {
		server := newModelServer(t, []float32{1, 0}, nil)
		defer server.Close()

		_, err := newTestCLIP(server.URL, 4).EmbedText(context.Background(), "cat")
		if !errors.Is(err, domain.ErrModel) {
			t.Errorf("expected model error, got %v", err)
		}
	})

	t.Run("zero vector", func(t *testing.T) {
		server := newModelServer(t, []float32{0, 0, 0, 0}, nil)
		defer server.Close()

		_, err := newTestCLIP(server.URL, 4).EmbedText(context.Background(), "cat")
		if !errors.Is(err, domain.ErrModel) {
			t.Errorf("expected model error, got %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"model crashed","type":"server_error"}}`))
		}))
		defer server.Close()

		e := newTestCLIP(server.URL, 4)
		_, err := e.EmbedText(context.Background(), "cat")
		if !errors.Is(err, domain.ErrModel) {
			t.Errorf("expected model error, got %v", err)
		}
		if err := e.HealthCheck(context.Background()); !errors.Is(err, domain.ErrModel) {
			t.Errorf("expected health check model error, got %v", err)
		}
	})
}

func TestCLIPEmbedder_HealthCheck(t *testing.T) {
	server := newModelServer(t, []float32{1}, nil)
	defer server.Close()

	if err := newTestCLIP(server.URL, 1).HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}

func TestCLIPEmbedder_Fingerprint(t *testing.T) {
	base := NewCLIPEmbedder(CLIPConfig{Model: "clip", Dimension: 4})
	if got := base.Fingerprint(); got != NewCLIPEmbedder(CLIPConfig{Model: "clip", Dimension: 4, InputSize: DefaultInputSize, MaxTextRunes: DefaultMaxTextRunes}).Fingerprint() {
		t.Errorf("unset settings should match explicit defaults, got %s", got)
	}

	for name, cfg := range map[string]CLIPConfig{
		"input_size":     {Model: "clip", Dimension: 4, InputSize: 336},
		"max_text_runes": {Model: "clip", Dimension: 4, MaxTextRunes: 77},
		"model":          {Model: "clip-large", Dimension: 4},
	} {
		if NewCLIPEmbedder(cfg).Fingerprint() == base.Fingerprint() {
			t.Errorf("changing %s must change the fingerprint", name)
		}
	}
}
