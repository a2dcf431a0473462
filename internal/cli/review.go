package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Triage queue items that need human attention",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items awaiting human review",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := api.ReviewItems(cmd.Context())
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No items awaiting review.")
			return nil
		}

		for _, item := range items {
			fmt.Printf("%s  %s\n", item.ID, item.SourceRef)
			fmt.Printf("  attempts: %d/%d", item.RetryCount, item.MaxRetries)
			if item.ErrorType != "" {
				fmt.Printf("  error: %s", item.ErrorType)
			}
			fmt.Println()
			if item.ErrorMessage != "" {
				fmt.Printf("  %s\n", item.ErrorMessage)
			}
			if len(item.SuggestedActions) > 0 {
				fmt.Printf("  suggested: %s\n", strings.Join(item.SuggestedActions, "; "))
			}
			fmt.Println()
		}
		return nil
	},
}

func reviewActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.ReviewAction(cmd.Context(), args[0], action); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", action, args[0])
			return nil
		},
	}
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewActionCmd("retry", "Reset an item and put it back in the queue"))
	reviewCmd.AddCommand(reviewActionCmd("skip", "Mark an item as skipped without retrying"))
	reviewCmd.AddCommand(reviewActionCmd("resolve", "Mark an item as resolved outside the system"))
	rootCmd.AddCommand(reviewCmd)
}
