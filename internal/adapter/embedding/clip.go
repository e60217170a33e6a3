package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"imgsearch/internal/domain"
	"imgsearch/internal/metrics"
)

const backendCLIP = "clip"

// CLIPConfig holds the CLIP model server settings.
type CLIPConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Dimension    int
	Device       string
	InputSize    int
	MaxPixels    int
	MaxTextRunes int
	Timeout      time.Duration
	Logger       *zap.Logger
}

// CLIPEmbedder embeds images and text with a CLIP model served over an
// OpenAI-compatible /embeddings endpoint (Jina CLIP, clip-as-service and
// similar). Inputs are sent as [{"image": <base64 png>}] or [{"text": ...}].
type CLIPEmbedder struct {
	client       *openai.Client
	model        string
	dimension    int
	device       string
	inputSize    int
	maxPixels    int
	maxTextRunes int
	logger       *zap.Logger
}

// NewCLIPEmbedder creates a CLIP embedder. No request is made until first use.
func NewCLIPEmbedder(cfg CLIPConfig) *CLIPEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = DefaultMaxTextRunes
	}

	metrics.ModelInfo.WithLabelValues(backendCLIP, cfg.Model, cfg.Device).Set(1)

	return &CLIPEmbedder{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		dimension:    cfg.Dimension,
		device:       cfg.Device,
		inputSize:    cfg.InputSize,
		maxPixels:    cfg.MaxPixels,
		maxTextRunes: cfg.MaxTextRunes,
		logger:       logger,
	}
}

func (e *CLIPEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	vec, err := e.EmbedImageBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vec, nil
}

func (e *CLIPEmbedder) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	pixels, err := Preprocess(data, e.inputSize, e.maxPixels)
	if err != nil {
		return nil, err
	}
	input := []map[string]string{{"image": base64.StdEncoding.EncodeToString(pixels)}}
	return e.embed(ctx, "image", input)
}

func (e *CLIPEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text, err := PrepareText(text, e.maxTextRunes)
	if err != nil {
		return nil, err
	}
	input := []map[string]string{{"text": text}}
	return e.embed(ctx, "text", input)
}

func (e *CLIPEmbedder) embed(ctx context.Context, kind string, input any) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(backendCLIP, e.model, kind, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, parseAPIError(err)
	}

	vec, err := e.checkResponse(resp)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(backendCLIP, e.model, kind, "error").Inc()
		return nil, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(backendCLIP, e.model, kind, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(backendCLIP, e.model, kind).Observe(duration.Seconds())

	e.logger.Debug("Embedding request completed",
		zap.String("model", e.model),
		zap.String("kind", kind),
		zap.String("device", e.device),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(vec)),
	)
	return vec, nil
}

// checkResponse validates the model output and L2-normalizes it.
func (e *CLIPEmbedder) checkResponse(resp openai.EmbeddingResponse) ([]float32, error) {
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response: %w", domain.ErrModel)
	}
	vec := resp.Data[0].Embedding
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("model %s returned %d dimensions, expected %d: %w",
			e.model, len(vec), e.dimension, domain.ErrModel)
	}
	if !domain.Finite(vec) || domain.Norm(vec) == 0 {
		return nil, fmt.Errorf("model %s returned a degenerate vector: %w", e.model, domain.ErrModel)
	}
	return domain.Normalize(vec), nil
}

// HealthCheck verifies the model server is reachable via ListModels.
func (e *CLIPEmbedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %v: %w", err, domain.ErrModel)
	}
	return nil
}

func (e *CLIPEmbedder) Dimension() int {
	return e.dimension
}

func (e *CLIPEmbedder) ModelName() string {
	return e.model
}

// Fingerprint identifies the model together with the settings that change
// its output for the same input.
func (e *CLIPEmbedder) Fingerprint() string {
	return fmt.Sprintf("%s|input_size=%d|max_text_runes=%d", e.model, e.inputSize, e.maxTextRunes)
}

// parseAPIError extracts a human-readable error from the API response.
// Every API failure maps to domain.ErrModel.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, domain.ErrModel)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, string(reqErr.Body), domain.ErrModel)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, domain.ErrModel)
	}

	return fmt.Errorf("embedding request failed: %v: %w", err, domain.ErrModel)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
