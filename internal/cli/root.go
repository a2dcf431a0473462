// Package cli provides the command-line interface for codeharvest.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ljutzkanovltd/codeharvest/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// api talks to the codeharvest server.
	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "codeharvest",
	Short: "Durable crawl and code-extraction queue",
	Long: `Codeharvest crawls documentation sources, extracts embedded code
examples, enriches them with LLM summaries and vector embeddings, and makes
the results searchable.

This CLI talks to a running codeharvest-server: enqueue crawls, watch
progress, cancel operations, and triage items that need human review.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(serverURL)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $CODEHARVEST_SERVER_URL or http://localhost:8181)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
