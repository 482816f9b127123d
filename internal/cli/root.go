// Package cli defines the visearch command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"visearch/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "visearch",
	Short: "Image similarity search coordinator",
	Long: `visearch embeds camera evidence images into a vector index and
coordinates nearest-neighbor image searches over it.

Example usage:
  visearch serve              # Run the HTTP facade with background timers
  visearch worker             # Run background timers only
  visearch process evidences  # One-shot evidence embedding batch
  visearch process searches   # One-shot pending-search batch
  visearch stats              # Show vector index statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			wd, wdErr := os.Getwd()
			if wdErr != nil {
				return fmt.Errorf("failed to get working directory: %w", wdErr)
			}
			cfg, err = config.LoadFromDir(wd)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./visearch.yaml)")
}
