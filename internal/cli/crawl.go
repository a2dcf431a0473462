package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ljutzkanovltd/codeharvest/internal/client"
)

var (
	crawlPriority int
	crawlForce    bool
	crawlCode     bool
	crawlWatch    bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url> [url...]",
	Short: "Enqueue one or more sources for crawling",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := api.Crawl(cmd.Context(), client.CrawlRequest{
			URLs:                args,
			Priority:            crawlPriority,
			Force:               crawlForce,
			ExtractCodeExamples: crawlCode,
		})
		if err != nil {
			return err
		}

		for ref, reason := range resp.Rejected {
			fmt.Printf("skipped %s: %s\n", ref, reason)
		}
		if len(resp.ItemIDs) == 0 {
			return fmt.Errorf("nothing enqueued (use --force to bypass the recrawl window)")
		}

		fmt.Printf("enqueued %d item(s) in batch %s\n", len(resp.ItemIDs), resp.BatchID)
		if verbose {
			for _, id := range resp.ItemIDs {
				fmt.Println(" ", id)
			}
		}

		if crawlWatch {
			return watchBatch(cmd.Context(), resp.BatchID)
		}
		fmt.Printf("check progress: codeharvest batch %s\n", resp.BatchID)
		return nil
	},
}

func init() {
	crawlCmd.Flags().IntVarP(&crawlPriority, "priority", "p", 50, "queue priority, higher first")
	crawlCmd.Flags().BoolVar(&crawlForce, "force", false, "bypass the recent-crawl dedup window")
	crawlCmd.Flags().BoolVar(&crawlCode, "code-examples", true, "extract and enrich code examples")
	crawlCmd.Flags().BoolVarP(&crawlWatch, "watch", "w", false, "watch batch progress until done")
	rootCmd.AddCommand(crawlCmd)
}
