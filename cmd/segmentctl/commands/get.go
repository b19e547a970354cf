package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gosegmentd/internal/cli"
	"github.com/TimurManjosov/gosegmentd/internal/client"
)

var getCmd = &cobra.Command{
	Use:   "get <segment-id>",
	Short: "Fetch a segment with its full rule tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("segment id must be an integer: %q", args[0])
		}

		conn, err := cli.GetConn(baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(conn.BaseURL, conn.APIKey)
		seg, err := c.GetSegment(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to get segment: %w", err)
		}

		return cli.PrintSegment(seg, cli.OutputFormat(format))
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions <segment-id>",
	Short: "List the version lineage of a segment",
	Long: `List every version of a segment, oldest first. Any row of the
lineage may be given; the lineage is resolved through its genesis.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("segment id must be an integer: %q", args[0])
		}

		conn, err := cli.GetConn(baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(conn.BaseURL, conn.APIKey)
		versions, err := c.ListVersions(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to list versions: %w", err)
		}

		return cli.PrintSegments(versions, cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(versionsCmd)
}
