package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"imgsearch/internal/domain"
)

var (
	queryText string
	queryTopN int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find images matching a text description",
	Long: `Embed a text query and list the most similar stored images, best first.

Examples:
  imgsearch query -q "a cat sleeping on a sofa"
  imgsearch query -q "红色的汽车" --top-n 5 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search text (required)")
	queryCmd.Flags().IntVarP(&queryTopN, "top-n", "n", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	_ = queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.service.TextToImages(cmd.Context(), queryText, queryTopN)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return printHits(hits, queryText, queryJSON)
}

type hitOutput struct {
	Rank      int     `json:"rank"`
	ID        string  `json:"id"`
	ImagePath string  `json:"image_path"`
	Score     float64 `json:"score"`
}

func printHits(hits []domain.Hit, query string, asJSON bool) error {
	if asJSON {
		out := make([]hitOutput, len(hits))
		for i, h := range hits {
			out[i] = hitOutput{Rank: i + 1, ID: h.ID, ImagePath: h.ImagePath, Score: h.Score}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(hits), query)
	for i, h := range hits {
		fmt.Printf("[%d] %.4f  %s\n", i+1, h.Score, h.ImagePath)
	}
	return nil
}
