package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintSegments outputs segments in the specified format
func PrintSegments(segs []segments.Segment, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(segs)
	case FormatYAML:
		return printYAML(segs)
	case FormatTable:
		return printTable(segs)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintSegment outputs a single segment in the specified format
func PrintSegment(seg segments.Segment, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(seg)
	case FormatYAML:
		return printYAML(seg)
	case FormatTable:
		return printTable([]segments.Segment{seg})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printTable(segs []segments.Segment) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Project", "Version", "Genesis", "Rules", "Deleted"})

	for _, s := range segs {
		deleted := ""
		if s.Deleted() {
			deleted = s.DeletedAt.Format("2006-01-02")
		}
		table.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			strconv.FormatInt(s.ProjectID, 10),
			strconv.Itoa(s.Version),
			strconv.FormatInt(s.VersionOf, 10),
			strconv.Itoa(len(s.Rules)),
			deleted,
		})
	}

	table.Render()
	return nil
}
