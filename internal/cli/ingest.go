package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"imgsearch/internal/domain"
	"imgsearch/internal/usecase"
)

var ingestExtensions []string

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Embed and store every image in a directory",
	Long: `Recursively scan a directory for images, embed each one and store the
vectors with their paths. Each run adds new entries; enable
ingest.skip_existing in the config to skip paths already stored.

Examples:
  imgsearch ingest ./data/images
  imgsearch ingest ./photos --ext .png,.jpg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringSliceVar(&ingestExtensions, "ext", nil, "file extensions to ingest (default from config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := GetRootDir()
	if len(args) > 0 {
		var err error
		dir, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %v: %w", err, domain.ErrInput)
		}
	}

	a, err := openApp(cmd.Context(), GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Scanning %s...\n", dir)
	result, err := ingestWithProgress(cmd, a.service, dir, ingestExtensions)
	if result != nil {
		printIngestResult(result)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

// ingestWithProgress runs an ingestion with a terminal progress bar and ETA.
func ingestWithProgress(cmd *cobra.Command, svc *usecase.Service, dir string, extensions []string) (*usecase.IngestResult, error) {
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progressCallback := func(processed, total int, currentFile string) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}

		_ = bar.Set(processed)

		if processed > 0 {
			elapsed := time.Since(startTime)
			rate := float64(processed) / elapsed.Seconds()
			remaining := total - processed
			if rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Embedding[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	return svc.IngestDirectory(cmd.Context(), dir, extensions, progressCallback)
}

func printIngestResult(result *usecase.IngestResult) {
	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Images found:    %d\n", result.Discovered)
	fmt.Printf("  Images stored:   %d\n", result.Ingested)
	if result.Skipped > 0 {
		fmt.Printf("  Images skipped:  %d (already stored)\n", result.Skipped)
	}
	if result.Failed > 0 {
		fmt.Printf("  Images failed:   %d\n", result.Failed)
	}
	fmt.Printf("  Duration:        %s\n", formatDuration(result.Duration))

	if len(result.Failures) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, f := range result.Failures {
			fmt.Printf("  - %s: %s\n", f.Path, strings.TrimSpace(f.Err.Error()))
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
