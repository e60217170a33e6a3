package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"imgsearch/config"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show collection and model details",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "output as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	a, err := openApp(cmd.Context(), cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.service.Info(cmd.Context())
	if err != nil {
		return err
	}

	if infoJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Collection: %s\n", info.Collection)
	fmt.Printf("Documents:  %d\n", info.Documents)
	fmt.Printf("Model:      %s (%d dimensions)\n", info.Model, info.Dimension)
	fmt.Printf("Provider:   %s\n", cfg.Embedding.Provider)
	if cfg.Store.Driver == "memory" {
		fmt.Printf("Store:      in-memory\n")
	} else {
		fmt.Printf("Store:      %s\n", config.ResolvePath(GetRootDir(), cfg.Store.Path))
	}
	return nil
}
