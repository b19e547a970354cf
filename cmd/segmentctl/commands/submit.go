package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gosegmentd/internal/cli"
	"github.com/TimurManjosov/gosegmentd/internal/client"
	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

var createName string
var createDescription string
var createProject int64

var createCmd = &cobra.Command{
	Use:   "create <rules.json>",
	Short: "Create a new segment from a rules file",
	Long: `Create a segment whose rule tree is read from a JSON file. The file
holds the rules array of the definition payload.

Examples:
  segmentctl create rules.json --project 1 --name "Beta users"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := readRulesFile(args[0])
		if err != nil {
			return err
		}

		conn, err := cli.GetConn(baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(conn.BaseURL, conn.APIKey)
		seg, err := c.CreateSegment(context.Background(), createProject, client.CreateSegmentRequest{
			Name:        createName,
			Description: createDescription,
			Rules:       rules,
		})
		if err != nil {
			return fmt.Errorf("failed to create segment: %w", err)
		}

		if quiet {
			fmt.Println(strconv.FormatInt(seg.ID, 10))
			return nil
		}
		return cli.PrintSegment(seg, cli.OutputFormat(format))
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <segment-id> <rules.json>",
	Short: "Submit a new rule-tree definition for a segment",
	Long: `Submit a definition payload for a segment. A payload that carries no
rule or condition ids is a structurally new definition: the current tree
is snapshotted into a historical version before the new tree is applied.

Examples:
  segmentctl submit 42 rules.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("segment id must be an integer: %q", args[0])
		}
		rules, err := readRulesFile(args[1])
		if err != nil {
			return err
		}

		conn, err := cli.GetConn(baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(conn.BaseURL, conn.APIKey)
		result, err := c.SubmitDefinition(context.Background(), id, rules)
		if err != nil {
			return fmt.Errorf("failed to submit definition: %w", err)
		}

		if !quiet {
			if result.SnapshotID != nil {
				fmt.Printf("Snapshot %d taken; segment now at version %d\n",
					*result.SnapshotID, result.Segment.Version)
			} else {
				fmt.Printf("Edited in place; segment at version %d\n", result.Segment.Version)
			}
		}
		return nil
	},
}

func readRulesFile(path string) ([]segments.RulePayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []segments.RulePayload
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return rules, nil
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Segment name (required)")
	createCmd.Flags().StringVar(&createDescription, "description", "", "Segment description")
	createCmd.Flags().Int64Var(&createProject, "project", 0, "Project ID (required)")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(submitCmd)
}
