package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"imgsearch/internal/domain"
	"imgsearch/internal/web"
)

var (
	serveAddr      string
	serveIngestDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI",
	Long: `Serve the search UI and JSON API. Text and image queries return a
gallery of the closest stored images with their scores.

Examples:
  imgsearch serve
  imgsearch serve --addr 127.0.0.1:8080 --ingest-dir ./data/images`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveIngestDir, "ingest-dir", "", "ingest this directory before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveIngestDir != "" {
		dir, err := filepath.Abs(serveIngestDir)
		if err != nil {
			return fmt.Errorf("invalid path: %v: %w", err, domain.ErrInput)
		}
		result, err := ingestWithProgress(cmd, a.service, dir, nil)
		if result != nil {
			printIngestResult(result)
		}
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
	}

	srv, err := web.NewServer(a.service, web.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DefaultTopN:    cfg.Retrieve.TopN,
	}, logger)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Web UI listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
