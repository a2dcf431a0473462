package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ljutzkanovltd/codeharvest/internal/client"
)

var stopCmd = &cobra.Command{
	Use:   "stop <operation-id>",
	Short: "Stop a running crawl or upload",
	Long: `Stop cancels the queue item behind a running operation. Work that
already reached the store stays stored; the item simply does not progress
further. Stopping an already-finished operation is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := api.Stop(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("operation %s not found (it may have aged out)", args[0])
			}
			return err
		}

		if result.Stopped {
			fmt.Printf("Stopped %s\n", args[0])
		} else {
			fmt.Printf("Operation %s already finished (%s), nothing to stop\n", args[0], result.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
