// Package explorer wires the graph stores, layout, expansion, selection,
// relationship workflow, chat session, and notifications of one explorer
// view over a single backend.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/chat"
	"github.com/matsen/ontoscope/internal/expand"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/layout"
	"github.com/matsen/ontoscope/internal/notify"
	"github.com/matsen/ontoscope/internal/selection"
	"github.com/matsen/ontoscope/internal/workflow"
)

// SchemaNodeKind is the Kind of every node in the schema store.
const SchemaNodeKind = "class"

// ErrUnknownElement is returned when a click names something not on screen.
var ErrUnknownElement = errors.New("element not in view")

// Options configures an Explorer.
type Options struct {
	// Hops is the default expansion depth. Values below 1 mean expand.DefaultHops.
	Hops int
	// Debounce is the layout coalescing window for every store.
	Debounce time.Duration
	// Layout configures the force-directed engine of each store.
	Layout []layout.Option
	// Notifier receives transient notifications. Defaults to a new Center.
	Notifier *notify.Center
	Logger   *zap.Logger
}

// Explorer is one explorer view.
type Explorer struct {
	backend backend.Backend
	logger  *zap.Logger
	hops    int

	// Schema holds the classes and permitted relationship types.
	Schema *graph.Store
	// Instances holds entities loaded by search and expansion.
	Instances *graph.Store
	// Preview holds the graph attached to the latest chat reply.
	Preview *graph.Store

	SchemaSelection   *selection.Controller
	InstanceSelection *selection.Controller
	Workflow          *workflow.Workflow
	Chat              *chat.Session
	Notifications     *notify.Center

	expander *expand.Service
}

// New creates an explorer over b. Nothing is fetched until LoadSchema.
func New(b backend.Backend, opts Options) *Explorer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	center := opts.Notifier
	if center == nil {
		center = notify.NewCenter(logger.Named("notify"))
	}
	hops := opts.Hops
	if hops < 1 {
		hops = expand.DefaultHops
	}

	newStore := func(name string) *graph.Store {
		return graph.NewStore(graph.Options{
			Engine:   layout.NewForceDirected(opts.Layout...),
			Debounce: opts.Debounce,
			Logger:   logger.Named(name),
		})
	}

	e := &Explorer{
		backend:           b,
		logger:            logger,
		hops:              hops,
		Schema:            newStore("schema"),
		Instances:         newStore("instances"),
		Preview:           newStore("preview"),
		SchemaSelection:   selection.NewController(),
		InstanceSelection: selection.NewController(),
		Notifications:     center,
	}

	e.SchemaSelection.Watch(e.Schema)
	e.InstanceSelection.Watch(e.Instances)

	e.Workflow = workflow.New(b,
		workflow.WithSelection(e.SchemaSelection),
		workflow.WithReload(e.ReloadSchema),
		workflow.WithNotifier(center),
		workflow.WithLogger(logger.Named("workflow")))
	e.SchemaSelection.OnEnterEditMode(e.Workflow.CancelIfActive)

	e.expander = expand.NewService(b, e.Instances,
		expand.WithNotifier(center),
		expand.WithLogger(logger.Named("expand")))

	e.Chat = chat.NewSession(chat.SessionOptions{
		Streamer: b,
		Titles:   b,
		Preview:  e.Preview,
		Notifier: center,
		Logger:   logger.Named("chat"),
	})
	return e
}

// DefaultHops returns the expansion depth used when a caller passes 0.
func (e *Explorer) DefaultHops() int {
	return e.hops
}

// LoadSchema fetches the schema and replaces the schema store with it. On
// failure the store is left as it was.
func (e *Explorer) LoadSchema(ctx context.Context) error {
	schema, err := e.backend.FetchSchema(ctx)
	if err != nil {
		e.logger.Warn("schema fetch failed", zap.Error(err))
		notify.Report(e.Notifications, "load schema", err)
		return err
	}
	nodes, edges := SchemaGraph(schema)
	e.Schema.Reset(nodes, edges)
	e.logger.Debug("schema loaded", zap.Int("classes", len(nodes)), zap.Int("relationships", len(edges)))
	return nil
}

// ReloadSchema refetches the schema after a write.
func (e *Explorer) ReloadSchema(ctx context.Context) error {
	return e.LoadSchema(ctx)
}

// SchemaGraph converts a schema into store elements: one node per class, keyed
// by class name, and one edge per permitted relationship.
func SchemaGraph(schema *backend.Schema) ([]graph.Node, []graph.Edge) {
	if schema == nil {
		return nil, nil
	}
	nodes := make([]graph.Node, 0, len(schema.Nodes))
	for _, c := range schema.Nodes {
		var props map[string]any
		if len(c.Aliases) > 0 || len(c.DataProperties) > 0 {
			props = make(map[string]any, 2)
			if len(c.Aliases) > 0 {
				props["aliases"] = c.Aliases
			}
			if len(c.DataProperties) > 0 {
				props["dataProperties"] = c.DataProperties
			}
		}
		nodes = append(nodes, graph.Node{
			ID:         c.Name,
			Label:      c.Name,
			Kind:       SchemaNodeKind,
			Color:      c.Color,
			Properties: props,
		})
	}
	edges := make([]graph.Edge, 0, len(schema.Relationships))
	for _, r := range schema.Relationships {
		edges = append(edges, graph.NewEdge("", r.Source, r.Target, r.Type))
	}
	return nodes, edges
}

// ClickSchemaNode routes a click on a schema class. While the relationship
// workflow is active the click feeds the workflow; otherwise it selects the
// class.
func (e *Explorer) ClickSchemaNode(id string) error {
	if e.Workflow.Active() {
		if !e.Schema.Contains(id) {
			return fmt.Errorf("%w: class %q", ErrUnknownElement, id)
		}
		return e.Workflow.ClickNode(id)
	}
	n, ok := e.Schema.Node(id)
	if !ok {
		return fmt.Errorf("%w: class %q", ErrUnknownElement, id)
	}
	e.SchemaSelection.Select(selection.Node(n))
	return nil
}

// ClickSchemaEdge selects a relationship of the schema graph. While the
// relationship workflow is active only class clicks are accepted.
func (e *Explorer) ClickSchemaEdge(key graph.EdgeKey) error {
	if e.Workflow.Active() {
		return fmt.Errorf("%w: relationship click while %s", workflow.ErrInvalidTransition, e.Workflow.State())
	}
	return clickEdge(e.Schema, e.SchemaSelection, key)
}

// ClickInstanceNode selects an entity of the instance graph.
func (e *Explorer) ClickInstanceNode(id string) error {
	n, ok := e.Instances.Node(id)
	if !ok {
		return fmt.Errorf("%w: entity %q", ErrUnknownElement, id)
	}
	e.InstanceSelection.Select(selection.Node(n))
	return nil
}

// ClickInstanceEdge selects a relationship of the instance graph.
func (e *Explorer) ClickInstanceEdge(key graph.EdgeKey) error {
	return clickEdge(e.Instances, e.InstanceSelection, key)
}

func clickEdge(store *graph.Store, sel *selection.Controller, key graph.EdgeKey) error {
	for _, edge := range store.Edges() {
		if edge.Key() == key {
			sel.Select(selection.Edge(edge))
			return nil
		}
	}
	return fmt.Errorf("%w: relationship %s -[%s]-> %s", ErrUnknownElement, key.Source, key.Type, key.Target)
}

// Expand merges the neighborhood of nodeID into the instance graph. A hops
// value of 0 uses the default depth.
func (e *Explorer) Expand(ctx context.Context, nodeID string, hops int) (graph.MergeResult, error) {
	return e.expander.Expand(ctx, nodeID, e.hopsOr(hops))
}

// ExpandAsync starts an expansion in the background. Failures are reported
// to Notifications.
func (e *Explorer) ExpandAsync(ctx context.Context, nodeID string, hops int) {
	e.expander.Go(ctx, nodeID, e.hopsOr(hops))
}

// WaitExpansions blocks until every background expansion has finished.
func (e *Explorer) WaitExpansions() {
	e.expander.Wait()
}

// Focus replaces the instance graph with the neighborhood of a single entity,
// as a search result does. On failure the instance graph is left as it was.
func (e *Explorer) Focus(ctx context.Context, name string, hops int) error {
	hops = e.hopsOr(hops)
	if name == "" {
		err := fmt.Errorf("%w: empty entity name", backend.ErrInvalidRequest)
		notify.Report(e.Notifications, "focus", err)
		return err
	}
	neighbors, err := e.backend.FetchNeighbors(ctx, name, hops)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		e.logger.Warn("focus failed", zap.String("node", name), zap.Error(err))
		notify.Report(e.Notifications, "focus", err)
		return err
	}
	nodes, edges := expand.FromNeighbors(neighbors)
	e.Instances.Reset(nodes, edges)
	return nil
}

func (e *Explorer) hopsOr(hops int) int {
	if hops == 0 {
		return e.hops
	}
	return hops
}

// DeleteRelationship removes a permitted relationship and reloads the schema.
func (e *Explorer) DeleteRelationship(ctx context.Context, rel backend.Relationship) error {
	return e.schemaWrite(ctx, "delete relationship", func() error {
		if err := backend.Validate(rel); err != nil {
			return err
		}
		return e.backend.DeleteRelationship(ctx, rel)
	})
}

// CreateClass adds a class and reloads the schema.
func (e *Explorer) CreateClass(ctx context.Context, spec backend.ClassSpec) error {
	return e.schemaWrite(ctx, "create class", func() error {
		if err := backend.Validate(spec); err != nil {
			return err
		}
		return e.backend.CreateClass(ctx, spec)
	})
}

// UpdateClass changes a class and reloads the schema.
func (e *Explorer) UpdateClass(ctx context.Context, name string, spec backend.ClassSpec) error {
	return e.schemaWrite(ctx, "update class", func() error {
		if name == "" {
			return fmt.Errorf("%w: empty class name", backend.ErrInvalidRequest)
		}
		if err := backend.Validate(spec); err != nil {
			return err
		}
		return e.backend.UpdateClass(ctx, name, spec)
	})
}

// DeleteClass removes a class and reloads the schema.
func (e *Explorer) DeleteClass(ctx context.Context, name string) error {
	return e.schemaWrite(ctx, "delete class", func() error {
		if name == "" {
			return fmt.Errorf("%w: empty class name", backend.ErrInvalidRequest)
		}
		return e.backend.DeleteClass(ctx, name)
	})
}

func (e *Explorer) schemaWrite(ctx context.Context, op string, write func() error) error {
	if err := write(); err != nil {
		e.logger.Warn("schema write failed", zap.String("op", op), zap.Error(err))
		notify.Report(e.Notifications, op, err)
		return err
	}
	// The write landed; a failed reload is reported by LoadSchema itself.
	_ = e.ReloadSchema(ctx)
	return nil
}

// Ask submits a chat query to the current conversation.
func (e *Explorer) Ask(ctx context.Context, query string) error {
	return e.Chat.Submit(ctx, query)
}

// SwitchConversation shows another conversation. A nil id starts a new one.
func (e *Explorer) SwitchConversation(id *int64, title string, history []chat.Message) {
	e.Chat.Switch(id, title, history)
}

// Close stops the chat session, waits for background expansions, and stops
// layout scheduling.
func (e *Explorer) Close() {
	e.Chat.Close()
	e.expander.Wait()
	e.Schema.Close()
	e.Instances.Close()
	e.Preview.Close()
}
