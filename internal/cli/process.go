package cli

import (
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"visearch/internal/usecase"
)

var processLimit int

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one-shot batch processing",
}

var processEvidencesCmd = &cobra.Command{
	Use:   "evidences",
	Short: "Embed pending evidence images once",
	RunE:  runProcessEvidences,
}

var processSearchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "Process pending image searches once",
	RunE:  runProcessSearches,
}

func init() {
	processCmd.PersistentFlags().IntVarP(&processLimit, "limit", "l", 0, "max items to process (default from config)")
	processCmd.AddCommand(processEvidencesCmd)
	processCmd.AddCommand(processSearchesCmd)
	rootCmd.AddCommand(processCmd)
}

// batchProgress builds a progress callback backed by a terminal bar. The bar
// is created lazily once the batch size is known.
func batchProgress(description string) usecase.ProgressFunc {
	var bar *progressbar.ProgressBar
	var mu sync.Mutex

	return func(processed, total int, current string) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+description+"[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		bar.Set(processed)
	}
}

func runProcessEvidences(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.initialize(ctx); err != nil {
		return err
	}

	limit := processLimit
	if limit <= 0 {
		limit = cfg.Scheduler.EvidenceBatchSize
	}

	result := a.embed.RunBatch(ctx, limit, batchProgress("Embedding"))

	fmt.Printf("\nProcessed %d evidences: %d successful, %d failed (%.0fms)\n",
		result.TotalProcessed, result.Successful, result.Failed, result.ProcessingTimeMs)
	for _, batchErr := range result.Errors {
		fmt.Printf("  %s: %s\n", batchErr.EvidenceID, batchErr.Error)
	}
	return nil
}

func runProcessSearches(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.initialize(ctx); err != nil {
		return err
	}

	limit := processLimit
	if limit <= 0 {
		limit = cfg.Scheduler.SearchBatchSize
	}

	responses := a.search.ProcessPending(ctx, limit, batchProgress("Searching"))

	successful := 0
	for _, resp := range responses {
		if resp.Success {
			successful++
		} else {
			fmt.Printf("  %s: %s\n", resp.SearchID, resp.ErrorMessage)
		}
	}
	fmt.Printf("\nProcessed %d searches: %d successful, %d failed\n",
		len(responses), successful, len(responses)-successful)
	return nil
}
