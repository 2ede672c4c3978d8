package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/backend/local"
	"github.com/matsen/ontoscope/internal/explorer"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/selection"
	"github.com/matsen/ontoscope/internal/viz"
)

var shellWatch bool

func init() {
	shellCmd.Flags().BoolVar(&shellWatch, "watch", false, "Reload the schema when offline data files change")
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive explorer",
	Long: `Start an interactive explorer session. Commands stand in for clicks:
"click" picks a class (or feeds the relationship workflow while it is
active), "expand" grows the instance graph in the background, "ask"
streams a chat reply.

Type "help" inside the shell for the command list.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	// The shell is interactive; notifications print as they arrive.
	humanOutput = true

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	sh := newShell(s.Explorer, os.Stdout)
	if err := s.LoadSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s schema not loaded: %v\n", yellow("warning:"), err)
	}

	if shellWatch {
		if s.offline == nil {
			return exitWithError(ExitConfigError, "--watch needs the offline backend (--data-dir)")
		}
		go watchOffline(ctx, s.offline, s.Explorer)
	}

	return sh.run(ctx, os.Stdin)
}

func watchOffline(ctx context.Context, b *local.Backend, ex *explorer.Explorer) {
	err := b.Watch(ctx, local.DefaultWatchDebounce, func() {
		_ = ex.ReloadSchema(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("data directory watch stopped", zap.Error(err))
	}
}

type shellCommand struct {
	usage string
	help  string
	// edit marks commands allowed only in edit mode.
	edit bool
	run  func(ctx context.Context, args []string) error
}

type shell struct {
	ex       *explorer.Explorer
	out      io.Writer
	commands map[string]shellCommand
	quit     bool
}

var errUsage = errors.New("usage")

func newShell(ex *explorer.Explorer, out io.Writer) *shell {
	sh := &shell{ex: ex, out: out}
	sh.commands = map[string]shellCommand{
		"help":       {"help", "list commands", false, sh.cmdHelp},
		"schema":     {"schema", "reload and show the schema graph", false, sh.cmdSchema},
		"click":      {"click CLASS", "click a class (select, or workflow step)", false, sh.cmdClick},
		"edge":       {"edge SOURCE TYPE TARGET", "select a schema relationship", false, sh.cmdEdge},
		"background": {"background", "click the background (clear selection)", false, sh.cmdBackground},
		"selected":   {"selected", "show the current selections", false, sh.cmdSelected},
		"edit":       {"edit", "toggle edit mode", false, sh.cmdEdit},
		"relate":     {"relate", "start creating a relationship", false, sh.cmdRelate},
		"type":       {"type NAME", "name the drafted relationship", false, sh.cmdType},
		"confirm":    {"confirm", "commit the drafted relationship", false, sh.cmdConfirm},
		"cancel":     {"cancel", "abandon the drafted relationship", false, sh.cmdCancel},
		"unrelate":   {"unrelate", "delete the selected schema relationship", true, sh.cmdUnrelate},
		"class":      {"class create|update|delete NAME [props] [#color]", "edit schema classes", true, sh.cmdClass},
		"expand":     {"expand NAME [HOPS]", "expand an entity in the background", false, sh.cmdExpand},
		"focus":      {"focus NAME [HOPS]", "show only an entity's neighborhood", false, sh.cmdFocus},
		"wait":       {"wait", "wait for background expansions", false, sh.cmdWait},
		"instances":  {"instances", "show the instance graph", false, sh.cmdInstances},
		"select":     {"select NAME", "select an entity", false, sh.cmdSelect},
		"relayout":   {"relayout", "lay out every view again", false, sh.cmdRelayout},
		"ask":        {"ask QUESTION", "stream a chat reply", false, sh.cmdAsk},
		"stop":       {"stop", "stop the streaming reply", false, sh.cmdStop},
		"new":        {"new", "start a new conversation", false, sh.cmdNew},
		"history":    {"history", "show the conversation", false, sh.cmdHistory},
		"preview":    {"preview", "show the graph of the latest reply", false, sh.cmdPreview},
		"viz":        {"viz schema|instances|preview FILE", "write a view as HTML", false, sh.cmdViz},
		"notes":      {"notes", "show recent notifications", false, sh.cmdNotes},
		"quit":       {"quit", "leave the shell", false, sh.cmdQuit},
	}
	ex.Chat.OnEvent(streamPrinter(sh.out, false))
	return sh
}

func (sh *shell) prompt() string {
	var parts []string
	if sh.ex.SchemaSelection.EditMode() {
		parts = append(parts, magenta("edit"))
	}
	if sh.ex.Workflow.Active() {
		parts = append(parts, yellow(sh.ex.Workflow.State().Prompt()))
	}
	if len(parts) == 0 {
		return "onto> "
	}
	return strings.Join(parts, " ") + " onto> "
}

func (sh *shell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for !sh.quit {
		fmt.Fprint(sh.out, sh.prompt())
		select {
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(sh.out)
				sh.ex.WaitExpansions()
				sh.ex.Chat.Wait()
				return nil
			}
			if err := sh.exec(ctx, line); err != nil {
				fmt.Fprintf(sh.out, "%s %v\n", red("error:"), err)
			}
		}
	}
	return nil
}

func (sh *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	c, ok := sh.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	if c.edit && !sh.ex.SchemaSelection.EditMode() {
		return fmt.Errorf("%s needs edit mode (type edit)", name)
	}
	err := c.run(ctx, args)
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: %s", c.usage)
	}
	return err
}

func (sh *shell) cmdHelp(ctx context.Context, args []string) error {
	names := make([]string, 0, len(sh.commands))
	for n := range sh.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := sh.commands[n]
		note := ""
		if c.edit {
			note = dim(" (edit mode)")
		}
		fmt.Fprintf(sh.out, "  %-48s %s%s\n", c.usage, c.help, note)
	}
	return nil
}

func (sh *shell) cmdSchema(ctx context.Context, args []string) error {
	if err := sh.ex.LoadSchema(ctx); err != nil {
		return err
	}
	sh.ex.Schema.Flush()
	printSchemaHuman(sh.out, sh.ex)
	return nil
}

func (sh *shell) cmdClick(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return sh.ex.ClickSchemaNode(args[0])
}

func (sh *shell) cmdEdge(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	return sh.ex.ClickSchemaEdge(graph.EdgeKey{Source: args[0], Type: args[1], Target: args[2]})
}

func (sh *shell) cmdBackground(ctx context.Context, args []string) error {
	sh.ex.SchemaSelection.ClickBackground()
	sh.ex.InstanceSelection.ClickBackground()
	return nil
}

func (sh *shell) cmdSelected(ctx context.Context, args []string) error {
	fmt.Fprintf(sh.out, "schema:    %s\n", sh.ex.SchemaSelection.Current())
	fmt.Fprintf(sh.out, "instances: %s\n", sh.ex.InstanceSelection.Current())
	return nil
}

func (sh *shell) cmdEdit(ctx context.Context, args []string) error {
	if sh.ex.SchemaSelection.ToggleEditMode() {
		fmt.Fprintln(sh.out, "edit mode on")
	} else {
		fmt.Fprintln(sh.out, "edit mode off")
	}
	return nil
}

func (sh *shell) cmdRelate(ctx context.Context, args []string) error {
	return sh.ex.Workflow.Start()
}

func (sh *shell) cmdType(ctx context.Context, args []string) error {
	return sh.ex.Workflow.SetType(strings.Join(args, " "))
}

func (sh *shell) cmdConfirm(ctx context.Context, args []string) error {
	rel := sh.ex.Workflow.Draft().Relationship()
	if err := sh.ex.Workflow.Confirm(ctx); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s %s\n", green("created"), formatEdge(rel.Source, rel.Type, rel.Target))
	return nil
}

func (sh *shell) cmdCancel(ctx context.Context, args []string) error {
	return sh.ex.Workflow.Cancel()
}

func (sh *shell) cmdUnrelate(ctx context.Context, args []string) error {
	sel, ok := sh.ex.SchemaSelection.Current().(selection.EdgeSelection)
	if !ok {
		return errors.New("select a relationship first (edge SOURCE TYPE TARGET)")
	}
	rel := backend.Relationship{Source: sel.Edge.Source, Type: sel.Edge.Type, Target: sel.Edge.Target}
	if err := sh.ex.DeleteRelationship(ctx, rel); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s %s\n", green("deleted"), formatEdge(rel.Source, rel.Type, rel.Target))
	return nil
}

// cmdClass parses "class create|update|delete NAME [prop,prop] [#color]".
func (sh *shell) cmdClass(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	op, name := args[0], args[1]
	spec := backend.ClassSpec{Name: name, DataProperties: []string{}}
	for _, a := range args[2:] {
		if strings.HasPrefix(a, "#") {
			spec.Color = a
			continue
		}
		spec.DataProperties = append(spec.DataProperties, strings.Split(a, ",")...)
	}

	var err error
	switch op {
	case "create":
		err = sh.ex.CreateClass(ctx, spec)
	case "update":
		err = sh.ex.UpdateClass(ctx, name, spec)
	case "delete":
		err = sh.ex.DeleteClass(ctx, name)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s class %s\n", green(op+"d"), bold(name))
	return nil
}

func parseHops(args []string) (string, int, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", 0, errUsage
	}
	if len(args) == 1 {
		return args[0], 0, nil
	}
	hops, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, errUsage
	}
	return args[0], hops, nil
}

func (sh *shell) cmdExpand(ctx context.Context, args []string) error {
	name, hops, err := parseHops(args)
	if err != nil {
		return err
	}
	sh.ex.ExpandAsync(ctx, name, hops)
	return nil
}

func (sh *shell) cmdFocus(ctx context.Context, args []string) error {
	name, hops, err := parseHops(args)
	if err != nil {
		return err
	}
	if err := sh.ex.Focus(ctx, name, hops); err != nil {
		return err
	}
	nodes, edges := sh.ex.Instances.Len()
	fmt.Fprintf(sh.out, "showing %d entities, %d relationships around %s\n", nodes, edges, name)
	return nil
}

func (sh *shell) cmdWait(ctx context.Context, args []string) error {
	sh.ex.WaitExpansions()
	sh.ex.Instances.Flush()
	nodes, edges := sh.ex.Instances.Len()
	fmt.Fprintf(sh.out, "%d entities, %d relationships\n", nodes, edges)
	return nil
}

func (sh *shell) cmdInstances(ctx context.Context, args []string) error {
	printGraphHuman(sh.out, sh.ex.Instances)
	return nil
}

func (sh *shell) cmdSelect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return sh.ex.ClickInstanceNode(args[0])
}

func (sh *shell) cmdRelayout(ctx context.Context, args []string) error {
	for _, s := range []*graph.Store{sh.ex.Schema, sh.ex.Instances, sh.ex.Preview} {
		s.Relayout()
		s.Flush()
	}
	return nil
}

func (sh *shell) cmdAsk(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	return sh.ex.Ask(ctx, strings.Join(args, " "))
}

func (sh *shell) cmdStop(ctx context.Context, args []string) error {
	sh.ex.Chat.Cancel()
	return nil
}

func (sh *shell) cmdNew(ctx context.Context, args []string) error {
	sh.ex.SwitchConversation(nil, "", nil)
	return nil
}

func (sh *shell) cmdHistory(ctx context.Context, args []string) error {
	conv := sh.ex.Chat.Conversation()
	if title := conv.Title(); title != "" {
		fmt.Fprintf(sh.out, "%s\n", bold(title))
	}
	for _, m := range conv.Messages() {
		role := cyan(string(m.Role))
		suffix := ""
		switch {
		case m.Streaming:
			suffix = dim(" …")
		case m.Interrupted:
			suffix = yellow(" (interrupted)")
		}
		fmt.Fprintf(sh.out, "%s: %s%s\n", role, m.Content, suffix)
	}
	return nil
}

func (sh *shell) cmdPreview(ctx context.Context, args []string) error {
	printGraphHuman(sh.out, sh.ex.Preview)
	return nil
}

func (sh *shell) cmdViz(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	var (
		store *graph.Store
		title string
	)
	switch args[0] {
	case "schema":
		store, title = sh.ex.Schema, "Schema"
	case "instances":
		store, title = sh.ex.Instances, "Instances"
	case "preview":
		store, title = sh.ex.Preview, "Chat reply"
	default:
		return errUsage
	}
	store.Flush()
	html, err := viz.GenerateHTML(viz.FromStore(title, store), viz.DefaultOptions())
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], []byte(html), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", args[1], err)
	}
	fmt.Fprintf(sh.out, "Visualization written to %s\n", args[1])
	return nil
}

func (sh *shell) cmdNotes(ctx context.Context, args []string) error {
	for _, n := range sh.ex.Notifications.Recent() {
		fmt.Fprintf(sh.out, "%s [%s] %s: %s\n", dim(n.At.Format("15:04:05")), n.Kind, n.Op, n.Message)
	}
	return nil
}

func (sh *shell) cmdQuit(ctx context.Context, args []string) error {
	sh.quit = true
	return nil
}
