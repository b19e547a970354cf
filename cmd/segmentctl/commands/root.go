package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	format  string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "segmentctl",
	Short: "CLI tool for managing audience segments",
	Long: `Segmentctl is a command-line tool for managing audience-targeting
segments in the gosegmentd service.

It provides commands for creating, inspecting, updating and deleting
segments, inspecting version history, and administering the size-limit
whitelist.

Examples:
  segmentctl list --project 1
  segmentctl get 42
  segmentctl versions 42
  segmentctl submit 42 rules.json
  segmentctl whitelist add 42`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the segmentd API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
