package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imgsearch/internal/domain"
)

// Config holds all configuration for the image search tool.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	Driver         string `yaml:"driver"` // "bolt", "memory"
	Path           string `yaml:"path"`
	Collection     string `yaml:"collection"`
	OpenTimeoutSec int    `yaml:"open_timeout_sec"`
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	Provider     string `yaml:"provider"` // "clip", "mock"
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"` // supports ${VAR} expansion
	Dimension    int    `yaml:"dimension"`
	Device       string `yaml:"device"` // informational: "auto", "cpu", "cuda"
	InputSize    int    `yaml:"input_size"`
	MaxPixels    int    `yaml:"max_pixels"`
	MaxTextRunes int    `yaml:"max_text_runes"`
	CacheDir     string `yaml:"cache_dir"`
	CacheEnabled bool   `yaml:"cache_enabled"`
	ProbeOnStart bool   `yaml:"probe_on_start"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// IngestConfig holds ingestion configuration.
type IngestConfig struct {
	Extensions   []string `yaml:"extensions"`
	Excludes     []string `yaml:"excludes"`
	Workers      int      `yaml:"workers"`
	BatchSize    int      `yaml:"batch_size"`
	OnError      string   `yaml:"on_error"` // "abort", "skip"
	SkipExisting bool     `yaml:"skip_existing"`
}

// RetrieveConfig holds query configuration.
type RetrieveConfig struct {
	TopN        int     `yaml:"top_n"`
	MinScore    float64 `yaml:"min_score"` // 0 = disabled
	CacheSize   int     `yaml:"cache_size"`
	CacheTTLSec int     `yaml:"cache_ttl_sec"`
}

// ServerConfig holds web UI configuration.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console", "json"
}

const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:         "bolt",
			Path:           filepath.Join("data", "vector_db", "imgsearch.db"),
			Collection:     "image_retrieve",
			OpenTimeoutSec: 1,
		},
		Embedding: EmbeddingConfig{
			Provider:     "clip",
			Model:        "jina-clip-v2",
			BaseURL:      "https://api.jina.ai/v1",
			APIKey:       "${JINA_API_KEY}",
			Dimension:    768,
			Device:       "auto",
			InputSize:    224,
			MaxPixels:    40_000_000,
			MaxTextRunes: 52,
			CacheDir:     filepath.Join("data", "model"),
			CacheEnabled: true,
			ProbeOnStart: false,
			TimeoutSec:   60,
		},
		Ingest: IngestConfig{
			Extensions: []string{".png"},
			Excludes:   []string{"**/.git/**", "**/.imgsearch/**"},
			Workers:    4,
			BatchSize:  64,
			OnError:    OnErrorAbort,
		},
		Retrieve: RetrieveConfig{
			TopN:        10,
			CacheSize:   100,
			CacheTTLSec: 300,
		},
		Server: ServerConfig{
			Addr:            "0.0.0.0:8000",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 60,
			ShutdownSec:     10,
			MaxUploadBytes:  20 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	data = expandEnvVars(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for imgsearch.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "imgsearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".imgsearch", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Validate checks the configuration for correctness.
// Every returned error wraps domain.ErrConfig.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "bolt", "memory":
	default:
		return fmt.Errorf("store.driver must be \"bolt\" or \"memory\", got %q: %w", c.Store.Driver, domain.ErrConfig)
	}
	if c.Store.Driver == "bolt" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required: %w", domain.ErrConfig)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("store.collection is required: %w", domain.ErrConfig)
	}
	switch c.Embedding.Provider {
	case "clip", "mock":
	default:
		return fmt.Errorf("unsupported embedding provider %q: %w", c.Embedding.Provider, domain.ErrConfig)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d: %w", c.Embedding.Dimension, domain.ErrConfig)
	}
	if c.Embedding.InputSize <= 0 {
		return fmt.Errorf("embedding.input_size must be positive, got %d: %w", c.Embedding.InputSize, domain.ErrConfig)
	}
	if c.Embedding.MaxPixels < 0 {
		return fmt.Errorf("embedding.max_pixels must not be negative, got %d: %w", c.Embedding.MaxPixels, domain.ErrConfig)
	}
	if len(c.Ingest.Extensions) == 0 {
		return fmt.Errorf("ingest.extensions must not be empty: %w", domain.ErrConfig)
	}
	switch c.Ingest.OnError {
	case OnErrorAbort, OnErrorSkip:
	default:
		return fmt.Errorf("ingest.on_error must be %q or %q, got %q: %w", OnErrorAbort, OnErrorSkip, c.Ingest.OnError, domain.ErrConfig)
	}
	if c.Retrieve.TopN <= 0 {
		return fmt.Errorf("retrieve.top_n must be positive, got %d: %w", c.Retrieve.TopN, domain.ErrConfig)
	}
	return nil
}

// OpenTimeout returns the store lock timeout.
func (c *StoreConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSec) * time.Second
}

// ResolvePath makes a relative path absolute against the root directory.
func ResolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// EnsureParentDir ensures the directory holding path exists.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// EmbeddingCachePath returns the path of the embedding cache database.
func EmbeddingCachePath(cacheDir string) string {
	return filepath.Join(cacheDir, "embeddings.db")
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// ExpandEnv expands ${VAR} references in a single value.
func ExpandEnv(value string) string {
	return string(expandEnvVars([]byte(value)))
}
