package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gosegmentd/internal/cli"
	"github.com/TimurManjosov/gosegmentd/internal/client"
)

var listProject int64

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the live segments of a project",
	Long: `List the live (non-deleted, canonical-version) segments of a project.

Examples:
  segmentctl list --project 1
  segmentctl list --project 1 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := cli.GetConn(baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(conn.BaseURL, conn.APIKey)
		segs, err := c.ListSegments(context.Background(), listProject)
		if err != nil {
			return fmt.Errorf("failed to list segments: %w", err)
		}

		if quiet {
			for _, s := range segs {
				fmt.Println(strconv.FormatInt(s.ID, 10))
			}
			return nil
		}
		if len(segs) == 0 {
			fmt.Println("No segments found")
			return nil
		}
		return cli.PrintSegments(segs, cli.OutputFormat(format))
	},
}

func init() {
	listCmd.Flags().Int64Var(&listProject, "project", 0, "Project ID (required)")
	_ = listCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(listCmd)
}
