package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "clover",
	Short: "Clover - product master data matching and verification",
	Long: `Clover matches SKUs from external marketplaces to master products and
routes uncertain matches to human review.

Available commands:
  api      - Serve the verification, master product and queue HTTP API
  worker   - Consume source records and process queue jobs
  migrate  - Apply database migrations
  sweep    - Release stuck queue jobs once, optionally scheduling retention`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before the environment (default .env)")

	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
