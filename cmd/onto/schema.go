package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/ontoscope/internal/explorer"
	"github.com/matsen/ontoscope/internal/graph"
)

func init() {
	rootCmd.AddCommand(schemaCmd)
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the schema graph",
	Long: `Fetch the schema graph: every class and every permitted relationship
type between two classes.

Examples:
  onto schema
  onto schema --human`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.LoadSchema(cmd.Context()); err != nil {
		return failed("loading schema", err)
	}
	s.Schema.Flush()

	if humanOutput {
		printSchemaHuman(os.Stdout, s.Explorer)
		return nil
	}
	return outputJSON(graphResponse(s.Schema))
}

func printSchemaHuman(w io.Writer, ex *explorer.Explorer) {
	nodes := ex.Schema.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	outgoing := make(map[string][]graph.Edge)
	for _, e := range ex.Schema.Edges() {
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	fmt.Fprintf(w, "%s %s\n\n", bold("Classes"), dim(fmt.Sprintf("(%d)", len(nodes))))
	for _, n := range nodes {
		fmt.Fprintf(w, "%s", bold(n.ID))
		if props, ok := n.Properties["dataProperties"].([]string); ok && len(props) > 0 {
			fmt.Fprintf(w, " %s", dim(strings.Join(props, ", ")))
		}
		fmt.Fprintf(w, "\n")
		for _, e := range outgoing[n.ID] {
			fmt.Fprintf(w, "  %s\n", formatEdge(e.Source, e.Type, e.Target))
		}
	}
}
