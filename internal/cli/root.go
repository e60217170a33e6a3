package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"imgsearch/config"
	"imgsearch/internal/domain"
	logpkg "imgsearch/internal/logger"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "imgsearch",
	Short: "Semantic image search - find images by text or by example image",
	Long: `imgsearch embeds a directory of images with a CLIP model, stores the
vectors in a local database and answers text-to-image and image-to-image
queries from the command line or a web UI.

Example usage:
  imgsearch ingest ./images          # Embed and store every .png under ./images
  imgsearch query -q "a cat"         # Find images matching a description
  imgsearch similar ./images/cat.png # Find images that look alike
  imgsearch serve                    # Start the web UI`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %v: %w", err, domain.ErrConfig)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logpkg.NewLogger(cfg.Logging.Format, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %v: %w", err, domain.ErrConfig)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command and exits with a code derived from the error kind.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInput):
		return 2
	case errors.Is(err, domain.ErrConfig):
		return 3
	case errors.Is(err, domain.ErrModel):
		return 4
	case errors.Is(err, domain.ErrStore):
		return 5
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./imgsearch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory for relative paths (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
