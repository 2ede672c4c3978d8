package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/notify"
	"github.com/matsen/ontoscope/internal/workflow"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJSONCompact writes a value as compact JSON to stdout.
func outputJSONCompact(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// exitError carries an exit code after the message has been printed.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// exitWithError outputs an error in the appropriate format (human or JSON) and
// returns an error that makes main exit with code.
func exitWithError(code int, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "%s %s\n", red("error:"), msg)
	} else {
		_ = outputJSON(ErrorResponse{Error: msg, Kind: ""})
	}
	return &exitError{code: code, msg: msg}
}

// failed reports err under op with an exit code derived from its kind.
func failed(op string, err error) error {
	kind := notify.Classify(err)
	msg := fmt.Sprintf("%s: %v", op, err)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "%s %s\n", red("error:"), msg)
	} else {
		_ = outputJSON(ErrorResponse{Error: msg, Kind: kind.String()})
	}
	return &exitError{code: exitCodeFor(err), msg: msg}
}

// exitCodeFor maps an error onto an exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, backend.ErrUnsupported):
		return ExitUnsupported
	case backend.IsNotFound(err):
		return ExitNotFound
	case backend.IsTransport(err):
		return ExitBackend
	case errors.Is(err, backend.ErrInvalidRequest),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrSelfLoop),
		errors.Is(err, workflow.ErrEmptyType):
		return ExitDataError
	default:
		return ExitError
	}
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// UpdateResponse is the response for config set commands.
type UpdateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// GraphResponse is a store snapshot with its layout.
type GraphResponse struct {
	Nodes     []graph.Node    `json:"nodes"`
	Edges     []graph.Edge    `json:"edges"`
	Positions graph.Positions `json:"positions,omitempty"`
}

func graphResponse(s *graph.Store) GraphResponse {
	data := s.Snapshot()
	nodes, edges := data.Nodes, data.Edges
	if nodes == nil {
		nodes = []graph.Node{}
	}
	if edges == nil {
		edges = []graph.Edge{}
	}
	return GraphResponse{Nodes: nodes, Edges: edges, Positions: s.Positions()}
}

// printGraphHuman prints nodes grouped by kind and edges as arrows.
func printGraphHuman(w io.Writer, s *graph.Store) {
	data := s.Snapshot()
	if data.IsEmpty() {
		fmt.Fprintf(w, "%s\n", dim("(empty)"))
		return
	}

	byKind := make(map[string][]string)
	for _, n := range data.Nodes {
		byKind[n.Kind] = append(byKind[n.Kind], n.Label)
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		labels := byKind[k]
		sort.Strings(labels)
		name := k
		if name == "" {
			name = "(unlabeled)"
		}
		fmt.Fprintf(w, "%s %s\n", bold(name), dim(fmt.Sprintf("(%d)", len(labels))))
		fmt.Fprintf(w, "  %s\n", strings.Join(labels, ", "))
	}

	if len(data.Edges) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Relationships"))
		for _, e := range data.Edges {
			fmt.Fprintf(w, "  %s\n", formatEdge(e.Source, e.Type, e.Target))
		}
	}
}

func formatEdge(source, relType, target string) string {
	return fmt.Sprintf("%s -[%s]-> %s", source, cyan(relType), target)
}

// printMergeHuman prints a merge summary line.
func printMergeHuman(w io.Writer, name string, r graph.MergeResult) {
	fmt.Fprintf(w, "%s %s: +%d nodes, +%d edges", green("expanded"), name, r.NodesAdded, r.EdgesAdded)
	if skipped := r.NodesSkipped + r.EdgesSkipped; skipped > 0 {
		fmt.Fprintf(w, ", %d already shown", skipped)
	}
	if len(r.Orphaned) > 0 {
		fmt.Fprintf(w, ", %s", yellow(fmt.Sprintf("%d dangling", len(r.Orphaned))))
	}
	fmt.Fprintf(w, "\n")
}

// printNotification prints a transient notification to stderr.
func printNotification(n notify.Notification) {
	label := yellow(n.Kind.String())
	if n.Kind == notify.KindInfo {
		label = green("info")
	}
	if n.Op != "" {
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", label, n.Op, n.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", label, n.Message)
}
