package viz

import (
	"sort"

	"github.com/matsen/ontoscope/internal/graph"
)

// FromStore snapshots a store together with its current layout positions.
func FromStore(title string, s *graph.Store) *GraphData {
	return FromSnapshot(title, s.Snapshot(), s.Positions())
}

// FromSnapshot builds render data from a graph snapshot. Nodes are ordered by
// ID so output is stable; positions missing from pos are left for the browser
// layout to place.
func FromSnapshot(title string, data graph.Data, pos graph.Positions) *GraphData {
	degree := make(map[string]int, len(data.Nodes))
	edges := make([]Edge, 0, len(data.Edges))
	for _, e := range data.Edges {
		degree[e.Source]++
		degree[e.Target]++
		edges = append(edges, Edge{ID: e.ID, Source: e.Source, Target: e.Target, Type: e.Type})
	}

	nodes := make([]Node, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		nodes = append(nodes, newNode(n, degree[n.ID], pos))
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return &GraphData{Title: title, Nodes: nodes, Edges: edges}
}

func newNode(n graph.Node, degree int, pos graph.Positions) Node {
	label := n.Label
	if label == "" {
		label = n.ID
	}
	out := Node{
		ID:         n.ID,
		Label:      label,
		Kind:       n.Kind,
		Color:      n.Color,
		Properties: n.Properties,
		Degree:     degree,
	}
	if p, ok := pos[n.ID]; ok {
		out.Position = &Position{X: p.X, Y: p.Y}
	}
	return out
}
