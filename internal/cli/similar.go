package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	similarTopN int
	similarJSON bool
)

var similarCmd = &cobra.Command{
	Use:   "similar IMAGE",
	Short: "Find images that look like the given image",
	Long: `Embed an image file and list the most similar stored images, best first.
The query image itself ranks first when it has been ingested.

Examples:
  imgsearch similar ./data/images/cat.png
  imgsearch similar ~/Downloads/query.png --top-n 3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)
	similarCmd.Flags().IntVarP(&similarTopN, "top-n", "n", 0, "number of results (default from config)")
	similarCmd.Flags().BoolVar(&similarJSON, "json", false, "output as JSON")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.service.ImageToImages(cmd.Context(), args[0], similarTopN)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return printHits(hits, args[0], similarJSON)
}
