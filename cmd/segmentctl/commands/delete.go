package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gosegmentd/internal/cli"
	"github.com/TimurManjosov/gosegmentd/internal/client"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <segment-id>",
	Short: "Soft-delete a segment",
	Long: `Soft-delete the live segment and its historical versions. Rows
referenced by history are retained, not removed.`,
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
		if err := c.DeleteSegment(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete segment: %w", err)
		}

		if !quiet {
			fmt.Printf("Segment %d deleted\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
