package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.index.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch index stats: %w", err)
	}

	fmt.Printf("Collection:  %s\n", stats.Collection)
	fmt.Printf("Points:      %d\n", stats.Points)
	fmt.Printf("Vector size: %d\n", stats.VectorSize)
	fmt.Printf("Distance:    %s\n", stats.Distance)
	fmt.Printf("Status:      %s\n", stats.Status)
	return nil
}
