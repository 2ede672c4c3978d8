package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/viz"
)

var (
	expandHops   int
	expandFocus  string
	expandOutput string
)

func init() {
	expandCmd.Flags().IntVar(&expandHops, "hops", 0, "Neighborhood depth (default: default_hops from config)")
	expandCmd.Flags().StringVar(&expandFocus, "focus", "", "Start from this entity's neighborhood before expanding")
	expandCmd.Flags().StringVarP(&expandOutput, "output", "o", "", "Also write an HTML visualization to this file")
	rootCmd.AddCommand(expandCmd)
}

var expandCmd = &cobra.Command{
	Use:   "expand NAME...",
	Short: "Expand entities into the instance graph",
	Long: `Fetch the neighborhood of one or more entities and merge them into
the instance graph. Expansions run concurrently; the merged result does
not depend on the order in which they finish.

Examples:
  onto expand alice
  onto expand alice bob --hops 2
  onto expand --focus acme alice -o instances.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExpand,
}

// ExpandResponse reports each expansion and the merged graph.
type ExpandResponse struct {
	Results map[string]graph.MergeResult `json:"results"`
	Graph   GraphResponse                `json:"graph"`
}

func runExpand(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if expandFocus != "" {
		if err := s.Focus(ctx, expandFocus, expandHops); err != nil {
			return failed("focusing "+expandFocus, err)
		}
	}

	results := make([]graph.MergeResult, len(args))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range args {
		g.Go(func() error {
			r, err := s.Expand(gctx, name, expandHops)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed("expanding", err)
	}
	s.Instances.Flush()

	if expandOutput != "" {
		html, err := viz.GenerateHTML(viz.FromStore("Instances", s.Instances), viz.DefaultOptions())
		if err != nil {
			return failed("rendering", err)
		}
		if err := os.WriteFile(expandOutput, []byte(html), 0644); err != nil {
			return failed("writing output file", err)
		}
	}

	if humanOutput {
		for i, name := range args {
			printMergeHuman(os.Stdout, name, results[i])
		}
		outputHuman("\n")
		printGraphHuman(os.Stdout, s.Instances)
		if expandOutput != "" {
			outputHuman("\nVisualization written to %s\n", expandOutput)
		}
		return nil
	}

	resp := ExpandResponse{Results: make(map[string]graph.MergeResult, len(args)), Graph: graphResponse(s.Instances)}
	for i, name := range args {
		resp.Results[name] = results[i]
	}
	return outputJSON(resp)
}
