package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/cyberlens/cmd/cyberlens/commands"
	"github.com/teranos/cyberlens/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cyberlens",
	Short: "CyberLens - threat-intelligence lookups for indicators of compromise",
	Long: `CyberLens - threat-intelligence lookups for indicators of compromise.

CyberLens classifies an indicator (IP, domain, URL or file hash), fans the
lookup out to every configured intelligence provider concurrently and merges
the answers into one report. It also keeps a lookup history and ingests
security news feeds for the indicators they mention.

Available commands:
  lookup  - Look up one indicator
  server  - Start the HTTP API
  history - Browse recorded lookups
  news    - Ingest and list security news
  db      - Manage the database
  am      - Manage configuration ("I am")

Examples:
  cyberlens lookup 8.8.8.8            # Query every provider that handles IPs
  cyberlens lookup evil.example --json
  cyberlens server                    # Serve the API on the configured address
  cyberlens am show                   # Show effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		// Servers log at info by default; one-shot commands stay quiet
		if cmd.Name() == "server" && verbosity == 0 {
			verbosity = 1
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.LookupCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.NewsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
