package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts and operation metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := api.Stats(cmd.Context())
		if err != nil {
			return err
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		printSection := func(name string) {
			section, ok := stats[name].(map[string]any)
			if !ok {
				return
			}
			fmt.Printf("%s:\n", name)
			for k, v := range section {
				fmt.Printf("  %-24s %v\n", k, v)
			}
		}
		printSection("queue")
		printSection("operations")
		return nil
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "List operations currently in flight",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := api.ActiveOperations(cmd.Context())
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No active operations.")
			return nil
		}

		for _, op := range ops {
			fmt.Printf("%s  [%s]  %3d%%  %s\n", op.ID, op.Status, op.Progress, op.Message)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(activeCmd)
}
