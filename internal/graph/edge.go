package graph

const (
	backendIDPrefix = "rel:"
	compositePrefix = "edge:"
)

// Edge is a directed relationship between two nodes in a Store.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// EdgeKey is the (source, target, type) identity of an edge.
type EdgeKey struct {
	Source string
	Target string
	Type   string
}

// Key returns the identity triple for this edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Type: e.Type}
}

// EdgeID derives the display ID of an edge. A backend identifier wins when present
// and is prefixed so it can never collide with a node ID; otherwise the ID is built
// from the triple so repeated fetches of the same relationship map to the same ID.
func EdgeID(backendID, source, target, relType string) string {
	if backendID != "" {
		return backendIDPrefix + backendID
	}
	return compositePrefix + source + "|" + relType + "|" + target
}

// NewEdge builds an edge with a derived ID.
func NewEdge(backendID, source, target, relType string) Edge {
	return Edge{
		ID:     EdgeID(backendID, source, target, relType),
		Source: source,
		Target: target,
		Type:   relType,
	}
}

// OrphanedEdge describes an edge dropped because an endpoint is absent.
type OrphanedEdge struct {
	EdgeID string `json:"edge_id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Reason string `json:"reason"` // "missing_source", "missing_target", or "missing_both"
}

func orphanReason(sourceOK, targetOK bool) string {
	switch {
	case !sourceOK && !targetOK:
		return "missing_both"
	case !sourceOK:
		return "missing_source"
	default:
		return "missing_target"
	}
}
