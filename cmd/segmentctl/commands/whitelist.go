package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gosegmentd/internal/cli"
	"github.com/TimurManjosov/gosegmentd/internal/client"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Administer the segment size-limit whitelist",
	Long: `Whitelisted segments are exempt from the rules and conditions count
limit. Entries are administrative and never expire on their own.`,
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <segment-id>",
	Short: "Exempt a segment from the size limit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWhitelist(args[0], true)
	},
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <segment-id>",
	Short: "Remove a segment's size-limit exemption",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWhitelist(args[0], false)
	},
}

func runWhitelist(arg string, add bool) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("segment id must be an integer: %q", arg)
	}

	conn, err := cli.GetConn(baseURL, apiKey)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	c := client.NewClient(conn.BaseURL, conn.APIKey)
	ctx := context.Background()
	if add {
		if err := c.Whitelist(ctx, id); err != nil {
			return fmt.Errorf("failed to whitelist segment: %w", err)
		}
		if !quiet {
			fmt.Printf("Segment %d whitelisted\n", id)
		}
		return nil
	}
	if err := c.Unwhitelist(ctx, id); err != nil {
		return fmt.Errorf("failed to remove whitelist entry: %w", err)
	}
	if !quiet {
		fmt.Printf("Segment %d removed from whitelist\n", id)
	}
	return nil
}

func init() {
	whitelistCmd.AddCommand(whitelistAddCmd)
	whitelistCmd.AddCommand(whitelistRemoveCmd)
	rootCmd.AddCommand(whitelistCmd)
}
