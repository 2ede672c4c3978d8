// Package viz renders a graph snapshot as a self-contained Cytoscape.js page.
package viz

// GraphData contains all data needed to render the visualization.
type GraphData struct {
	Title string `json:"-"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one rendered class or entity.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Kind       string         `json:"kind,omitempty"`
	Color      string         `json:"color,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`

	// Sizing
	Degree int `json:"degree"`

	// Position is the layout coordinate, if the store has computed one.
	Position *Position `json:"-"`
}

// Position is a preset node coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is one rendered relationship.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// IsEmpty returns true if the graph has no nodes.
func (g *GraphData) IsEmpty() bool {
	return len(g.Nodes) == 0
}

// Positioned reports whether every node carries a layout coordinate.
func (g *GraphData) Positioned() bool {
	for _, n := range g.Nodes {
		if n.Position == nil {
			return false
		}
	}
	return len(g.Nodes) > 0
}
