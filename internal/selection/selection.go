// Package selection tracks what the user has selected in a graph view and
// whether the view is in edit mode.
package selection

import (
	"fmt"
	"sync"

	"github.com/matsen/ontoscope/internal/graph"
)

// Selection is the sealed set of things that can be selected: None, a
// NodeSelection, or an EdgeSelection.
type Selection interface {
	isSelection()
	fmt.Stringer
}

// None is the empty selection.
var None Selection = noneSelection{}

type noneSelection struct{}

func (noneSelection) isSelection()   {}
func (noneSelection) String() string { return "none" }

// NodeSelection selects a node.
type NodeSelection struct {
	Node graph.Node
}

func (NodeSelection) isSelection() {}

func (s NodeSelection) String() string { return "node " + s.Node.ID }

// EdgeRef identifies a selected edge by its triple.
type EdgeRef struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Key returns the edge identity used by the store.
func (r EdgeRef) Key() graph.EdgeKey {
	return graph.EdgeKey{Source: r.Source, Target: r.Target, Type: r.Type}
}

// EdgeSelection selects an edge.
type EdgeSelection struct {
	Edge EdgeRef
}

func (EdgeSelection) isSelection() {}

func (s EdgeSelection) String() string {
	return fmt.Sprintf("edge %s-[%s]->%s", s.Edge.Source, s.Edge.Type, s.Edge.Target)
}

// Node returns a selection of n.
func Node(n graph.Node) Selection {
	return NodeSelection{Node: n}
}

// Edge returns a selection of e.
func Edge(e graph.Edge) Selection {
	return EdgeSelection{Edge: EdgeRef{Source: e.Source, Target: e.Target, Type: e.Type}}
}

// Controller holds the current selection and the edit-mode flag of one view.
// The two are independent: toggling edit mode never clears the selection.
type Controller struct {
	mu       sync.Mutex
	current  Selection
	editMode bool

	onChange    []func(Selection)
	onEnterEdit []func()
}

// NewController creates a controller with nothing selected.
func NewController() *Controller {
	return &Controller{current: None}
}

// Current returns the current selection.
func (c *Controller) Current() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Select replaces the current selection unconditionally. A nil selection is
// treated as None.
func (c *Controller) Select(sel Selection) {
	if sel == nil {
		sel = None
	}
	c.mu.Lock()
	c.current = sel
	observers := c.onChange
	c.mu.Unlock()

	for _, fn := range observers {
		fn(sel)
	}
}

// ClickBackground clears the selection.
func (c *Controller) ClickBackground() {
	c.Select(None)
}

// EditMode reports whether edit mode is on.
func (c *Controller) EditMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editMode
}

// ToggleEditMode flips edit mode and returns the new value. Entering edit mode
// runs the OnEnterEditMode hooks.
func (c *Controller) ToggleEditMode() bool {
	c.mu.Lock()
	c.editMode = !c.editMode
	entered := c.editMode
	hooks := c.onEnterEdit
	c.mu.Unlock()

	if entered {
		for _, fn := range hooks {
			fn()
		}
	}
	return entered
}

// OnChange registers fn to run after every Select.
func (c *Controller) OnChange(fn func(Selection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnEnterEditMode registers fn to run whenever edit mode is switched on.
func (c *Controller) OnEnterEditMode(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnterEdit = append(c.onEnterEdit, fn)
}

// Watch clears the selection whenever the selected node or edge leaves store.
func (c *Controller) Watch(store *graph.Store) {
	store.Subscribe(func(change graph.Change) {
		if len(change.RemovedNodes) == 0 && len(change.RemovedEdges) == 0 {
			return
		}
		if c.stale(store) {
			c.Select(None)
		}
	})
}

func (c *Controller) stale(store *graph.Store) bool {
	switch sel := c.Current().(type) {
	case NodeSelection:
		return !store.Contains(sel.Node.ID)
	case EdgeSelection:
		return !store.HasEdge(sel.Edge.Key())
	default:
		return false
	}
}
