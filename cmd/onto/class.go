package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/ontoscope/internal/backend"
)

var (
	classProperties []string
	classColor      string
	classLabel      string
	classRename     string
)

func init() {
	for _, c := range []*cobra.Command{classCreateCmd, classUpdateCmd} {
		c.Flags().StringSliceVar(&classProperties, "properties", nil, "Data properties (comma-separated)")
		c.Flags().StringVar(&classColor, "color", "", "Display color as #rrggbb")
		c.Flags().StringVar(&classLabel, "label", "", "Display label")
	}
	classUpdateCmd.Flags().StringVar(&classRename, "rename", "", "New class name")

	classCmd.AddCommand(classCreateCmd, classUpdateCmd, classDeleteCmd)
	rootCmd.AddCommand(classCmd)
}

var classCmd = &cobra.Command{
	Use:   "class",
	Short: "Create, update, or delete schema classes",
}

var classCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a schema class",
	Long: `Create a schema class.

Examples:
  onto class create Person --properties name,age --color "#4A90D9"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := classSpec(args[0])
		return runClassWrite("create class", "created", args[0], func(s *session) error {
			return s.CreateClass(cmd.Context(), spec)
		})
	},
}

var classUpdateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Update a schema class",
	Long: `Replace a class definition. Renaming a class carries its permitted
relationships along.

Examples:
  onto class update Person --properties name,age,email
  onto class update Org --rename Organization`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		target := name
		if classRename != "" {
			target = classRename
		}
		spec := classSpec(target)
		return runClassWrite("update class", "updated", target, func(s *session) error {
			return s.UpdateClass(cmd.Context(), name, spec)
		})
	},
}

var classDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a schema class and its relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClassWrite("delete class", "deleted", args[0], func(s *session) error {
			return s.DeleteClass(cmd.Context(), args[0])
		})
	},
}

func classSpec(name string) backend.ClassSpec {
	props := classProperties
	if props == nil {
		props = []string{}
	}
	return backend.ClassSpec{Name: name, Label: classLabel, DataProperties: props, Color: classColor}
}

func runClassWrite(op, status, name string, write func(*session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := write(s); err != nil {
		return failed(op, err)
	}
	if humanOutput {
		outputHuman("%s class %s\n", green(status), bold(name))
		return nil
	}
	return outputJSON(ClassResponse{Status: status, Name: name})
}

// ClassResponse is the JSON output of class writes.
type ClassResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}
