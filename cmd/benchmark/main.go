package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imgsearch/config"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/logger"
	"imgsearch/internal/port"
)

func main() {
	rootDir := flag.String("dir", ".", "Directory holding imgsearch.yaml")
	query := flag.String("q", "", "Text query to test")
	image := flag.String("image", "", "Image query to test")
	topN := flag.Int("n", 10, "Number of results")
	rounds := flag.Int("rounds", 5, "Search repetitions for latency")
	flag.Parse()

	if *query == "" && *image == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -q \"a cat\" | -image ./cat.png")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (model connection, vector store)")
		fmt.Println("  2. Retrieval quality (similarity of the top results)")
		fmt.Println("  3. Search latency over the stored collection")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Format, "warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbPath := config.ResolvePath(*rootDir, cfg.Store.Path)
	st, err := store.NewBoltStore(dbPath, store.Options{Timeout: cfg.Store.OpenTimeout(), Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	embedder, err := setupEmbedding(ctx, st, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search not available: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("IMAGE SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))

	count, _ := st.Count(ctx, cfg.Store.Collection)
	fmt.Printf("Images stored: %d\n", count)
	fmt.Printf("Model: %s (%s)\n", embedder.ModelName(), cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", embedder.Dimension())
	fmt.Println()

	embedStart := time.Now()
	var queryVec []float32
	if *query != "" {
		fmt.Printf("Query: %q\n", *query)
		queryVec, err = embedder.EmbedText(ctx, *query)
	} else {
		fmt.Printf("Query image: %s\n", *image)
		queryVec, err = embedder.EmbedImage(ctx, *image)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding error: %v\n", err)
		os.Exit(1)
	}
	embedTime := time.Since(embedStart)
	fmt.Println(strings.Repeat("-", 70))
	fmt.Printf("Query embedded: %d dimensions in %s\n\n", len(queryVec), embedTime.Round(time.Millisecond))

	var hits []domain.Hit
	var searchTime time.Duration
	for range max(*rounds, 1) {
		start := time.Now()
		hits, err = st.Search(ctx, cfg.Store.Collection, queryVec, *topN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
			os.Exit(1)
		}
		searchTime += time.Since(start)
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return
	}

	fmt.Printf("Top %d matches:\n\n", len(hits))

	totalScore := 0.0
	for i, h := range hits {
		totalScore += h.Score

		rating := "LOW"
		if h.Score > 0.8 {
			rating = "HIGH"
		} else if h.Score > 0.5 {
			rating = "GOOD"
		} else if h.Score > 0.25 {
			rating = "OK"
		}
		fmt.Printf("%d. [%s %.3f] %s\n", i+1, rating, h.Score, shortPath(h.ImagePath))
	}

	avgScore := totalScore / float64(len(hits))
	fmt.Println()
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", hits[0].Score)
	fmt.Printf("  Search latency:     %s (mean of %d)\n", (searchTime / time.Duration(max(*rounds, 1))).Round(time.Microsecond), max(*rounds, 1))

	// Cross-modal CLIP scores sit well below image-to-image scores.
	if avgScore > 0.3 {
		fmt.Println("  Status: GOOD - results are strongly related")
	} else if avgScore > 0.2 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - check the model or re-ingest")
	}
}

func shortPath(path string) string {
	dir, file := filepath.Split(path)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return file
	}
	return filepath.Join(parent, file)
}

func setupEmbedding(ctx context.Context, st *store.BoltStore, cfg *config.Config) (port.Embedder, error) {
	var embedder port.Embedder

	switch cfg.Embedding.Provider {
	case "clip":
		embedder = embedding.NewCLIPEmbedder(embedding.CLIPConfig{
			APIKey:       config.ExpandEnv(cfg.Embedding.APIKey),
			BaseURL:      cfg.Embedding.BaseURL,
			Model:        cfg.Embedding.Model,
			Dimension:    cfg.Embedding.Dimension,
			InputSize:    cfg.Embedding.InputSize,
			MaxPixels:    cfg.Embedding.MaxPixels,
			MaxTextRunes: cfg.Embedding.MaxTextRunes,
			Timeout:      time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		})
	case "mock":
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimension)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}

	count, err := st.Count(ctx, cfg.Store.Collection)
	if err != nil {
		return nil, fmt.Errorf("collection unavailable: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("no images stored - run 'imgsearch ingest' first")
	}
	return embedder, nil
}
