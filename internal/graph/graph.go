// Package graph holds the in-memory graph currently materialized for display.
//
// A Store is the canonical, deduplicated collection of nodes and edges for one
// view (schema graph, instance graph, or chat preview). Nodes are keyed by ID;
// edges are keyed by ID and by their (source, target, type) triple, so the same
// relationship fetched twice under different identifier schemes is kept once.
package graph

// Node is a schema class or an instance entity.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Kind       string         `json:"kind"` // schema-class name or instance label
	Properties map[string]any `json:"properties,omitempty"`
	Color      string         `json:"color,omitempty"`
}

// Data is a snapshot of a graph (what chat replies carry and what viz renders).
type Data struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// IsEmpty returns true if the graph has no nodes.
func (d *Data) IsEmpty() bool {
	return d == nil || len(d.Nodes) == 0
}

// Position is a layout coordinate for a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Positions maps node IDs to coordinates.
type Positions map[string]Position

// Clone returns a copy of the positions map.
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for id, pos := range p {
		out[id] = pos
	}
	return out
}

func cloneNode(n Node) Node {
	if n.Properties != nil {
		props := make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			props[k] = v
		}
		n.Properties = props
	}
	return n
}
