package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/explorer"
)

var relateDelete bool

func init() {
	relateCmd.Flags().BoolVar(&relateDelete, "delete", false, "Delete the relationship instead of creating it")
	rootCmd.AddCommand(relateCmd)
}

var relateCmd = &cobra.Command{
	Use:   "relate SOURCE TARGET TYPE",
	Short: "Create or delete a permitted relationship between two classes",
	Long: `Create a permitted relationship type between two schema classes, as
the guided workflow does: pick the source class, pick the target class,
name the relationship, confirm. The schema is reloaded afterwards.

Examples:
  onto relate Person Company WORKS_AT
  onto relate --delete Person Company WORKS_AT`,
	Args: cobra.ExactArgs(3),
	RunE: runRelate,
}

func runRelate(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	rel := backend.Relationship{Source: args[0], Target: args[1], Type: args[2]}
	if err := s.LoadSchema(ctx); err != nil {
		return failed("loading schema", err)
	}

	if relateDelete {
		if err := s.DeleteRelationship(ctx, rel); err != nil {
			return failed("deleting relationship", err)
		}
		return reportRelationship("deleted", rel)
	}

	if err := createRelationship(s.Explorer, rel); err != nil {
		return failed("creating relationship", err)
	}
	if err := s.Workflow.Confirm(ctx); err != nil {
		_ = s.Workflow.Cancel()
		return failed("creating relationship", err)
	}
	return reportRelationship("created", rel)
}

// createRelationship walks the workflow up to confirmation.
func createRelationship(ex *explorer.Explorer, rel backend.Relationship) error {
	steps := []func() error{
		ex.Workflow.Start,
		func() error { return ex.ClickSchemaNode(rel.Source) },
		func() error { return ex.ClickSchemaNode(rel.Target) },
		func() error { return ex.Workflow.SetType(rel.Type) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = ex.Workflow.Cancel()
			return err
		}
	}
	return nil
}

func reportRelationship(status string, rel backend.Relationship) error {
	if humanOutput {
		outputHuman("%s %s\n", green(status), formatEdge(rel.Source, rel.Type, rel.Target))
		return nil
	}
	return outputJSON(struct {
		Status string `json:"status"`
		backend.Relationship
	}{status, rel})
}
