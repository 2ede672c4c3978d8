package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/ontoscope/internal/viz"
)

var (
	vizOutput string
	vizLayout string
	vizHops   int
)

func init() {
	vizCmd.Flags().StringVarP(&vizOutput, "output", "o", "", "Output file path (default: stdout)")
	vizCmd.Flags().StringVar(&vizLayout, "layout", "preset", "Layout: preset (computed positions), force, circle, or grid")
	vizCmd.Flags().IntVar(&vizHops, "hops", 0, "Neighborhood depth for instance views")
	rootCmd.AddCommand(vizCmd)
}

var vizCmd = &cobra.Command{
	Use:   "viz [NAME...]",
	Short: "Generate a graph visualization",
	Long: `Generate an interactive HTML visualization. Without arguments the
schema graph is rendered; with entity names their merged neighborhoods are.

Examples:
  onto viz > schema.html
  onto viz --output schema.html
  onto viz alice bob --hops 2 -o people.html
  onto viz --layout circle -o schema.html`,
	RunE: runViz,
}

func runViz(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	var data *viz.GraphData
	if len(args) == 0 {
		if err := s.LoadSchema(ctx); err != nil {
			return failed("loading schema", err)
		}
		s.Schema.Flush()
		data = viz.FromStore("Schema", s.Schema)
	} else {
		// One unit of work: a single layout pass for all expansions.
		var expandErr error
		s.Instances.Batch(func() {
			for _, name := range args {
				if _, err := s.Expand(ctx, name, vizHops); err != nil {
					expandErr = err
					return
				}
			}
		})
		if expandErr != nil {
			return failed("expanding", expandErr)
		}
		s.Instances.Flush()
		data = viz.FromStore("Instances", s.Instances)
	}

	html, err := viz.GenerateHTML(data, viz.HTMLOptions{Layout: vizLayout})
	if err != nil {
		return exitWithError(ExitDataError, "generating HTML: %v", err)
	}

	if vizOutput == "" {
		fmt.Print(html)
		return nil
	}
	if err := os.WriteFile(vizOutput, []byte(html), 0644); err != nil {
		return failed("writing output file", err)
	}
	if humanOutput {
		outputHuman("Visualization written to %s\n", vizOutput)
		return nil
	}
	return outputJSON(StatusResponse{Status: "written", Path: vizOutput})
}
