package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"imgsearch/internal/metrics"
	"imgsearch/internal/port"
)

var bucketEmbeddings = []byte("embeddings")

type cachedVector struct {
	Model  string    `msgpack:"m"`
	Vector []float32 `msgpack:"v"`
}

// CachedEmbedder caches embeddings in a local BoltDB file.
// Cache failures are logged and never fail an embedding.
type CachedEmbedder struct {
	inner  port.Embedder
	db     *bbolt.DB
	logger *zap.Logger
}

// NewCachedEmbedder opens (creating if needed) the cache file at path
// and wraps inner with it.
func NewCachedEmbedder(inner port.Embedder, path string, logger *zap.Logger) (*CachedEmbedder, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, db: db, logger: logger}, nil
}

func (c *CachedEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	vec, err := c.EmbedImageBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vec, nil
}

func (c *CachedEmbedder) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	return c.cached("image", data, func() ([]float32, error) {
		return c.inner.EmbedImageBytes(ctx, data)
	})
}

func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.cached("text", []byte(text), func() ([]float32, error) {
		return c.inner.EmbedText(ctx, text)
	})
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// HealthCheck delegates to the wrapped embedder when it supports it.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(port.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close closes the cache file.
func (c *CachedEmbedder) Close() error {
	return c.db.Close()
}

func (c *CachedEmbedder) cached(kind string, data []byte, compute func() ([]float32, error)) ([]float32, error) {
	key := c.cacheKey(kind, data)

	if vec, ok := c.get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := compute()
	if err != nil {
		return nil, err
	}
	c.put(key, vec)
	return vec, nil
}

// fingerprinter is implemented by embedders whose output depends on
// settings beyond the model name.
type fingerprinter interface {
	Fingerprint() string
}

func (c *CachedEmbedder) cacheKey(kind string, data []byte) []byte {
	id := c.inner.ModelName()
	if f, ok := c.inner.(fingerprinter); ok {
		id = f.Fingerprint()
	}
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(data)
	return h.Sum(nil)
}

func (c *CachedEmbedder) get(key []byte) ([]float32, bool) {
	var entry cachedVector
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketEmbeddings).Get(key)
		if raw == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(raw, &entry)
	})
	if err != nil {
		c.logger.Warn("Failed to read cached embedding", zap.Error(err))
		return nil, false
	}
	if !found || entry.Model != c.inner.ModelName() || len(entry.Vector) != c.inner.Dimension() {
		return nil, false
	}
	return entry.Vector, true
}

func (c *CachedEmbedder) put(key []byte, vec []float32) {
	raw, err := msgpack.Marshal(cachedVector{Model: c.inner.ModelName(), Vector: vec})
	if err != nil {
		c.logger.Warn("Failed to encode embedding for cache", zap.Error(err))
		return
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put(key, raw)
	})
	if err != nil {
		c.logger.Warn("Failed to cache embedding", zap.Error(err))
	}
}
