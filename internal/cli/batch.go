package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var batchWatch bool

var batchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Show aggregate progress for a crawl batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchWatch {
			return watchBatch(cmd.Context(), args[0])
		}

		status, err := api.BatchProgress(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		c := status.Counts
		fmt.Printf("Batch %s (%d items)\n", status.BatchID, status.Total)
		fmt.Printf("  pending:    %d\n", c.Pending)
		fmt.Printf("  running:    %d\n", c.Running)
		fmt.Printf("  completed:  %d\n", c.Completed)
		fmt.Printf("  failed:     %d\n", c.Failed)
		fmt.Printf("  cancelled:  %d\n", c.Cancelled)
		if status.Done {
			fmt.Println("No item can still make progress.")
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().BoolVarP(&batchWatch, "watch", "w", false, "poll until the batch settles")
	rootCmd.AddCommand(batchCmd)
}
