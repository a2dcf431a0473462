package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	uploadCode  bool
	uploadWatch bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a local document for extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}

		opID, err := api.Upload(cmd.Context(), filepath.Base(args[0]), string(content), uploadCode)
		if err != nil {
			return err
		}

		fmt.Printf("upload started, operation %s\n", opID)
		if uploadWatch {
			return watchOperation(cmd.Context(), opID)
		}
		fmt.Printf("check progress: codeharvest watch %s\n", opID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadCode, "code-examples", true, "extract and enrich code examples")
	uploadCmd.Flags().BoolVarP(&uploadWatch, "watch", "w", false, "watch progress until done")
	rootCmd.AddCommand(uploadCmd)
}
