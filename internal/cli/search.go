package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchKind  string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over stored pages and code examples",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		results, err := api.Search(cmd.Context(), query, searchKind, searchLimit)
		if err != nil {
			return err
		}

		if len(results.Pages) == 0 && len(results.Examples) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		for _, p := range results.Pages {
			fmt.Printf("page %s  %s\n", p.ID, p.URL)
			fmt.Printf("  %s\n\n", strings.ReplaceAll(p.Snippet, "\n", " "))
		}

		for _, e := range results.Examples {
			lang := "?"
			if e.Language != nil {
				lang = *e.Language
			}
			fmt.Printf("code %s  [%s]\n", e.ID, lang)
			if e.Summary != nil {
				fmt.Printf("  %s\n", *e.Summary)
			}
			fmt.Println(indent(e.Code, "  | "))
			fmt.Println()
		}
		return nil
	},
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "all", "what to search: all, pages or code")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results per kind")
	rootCmd.AddCommand(searchCmd)
}
