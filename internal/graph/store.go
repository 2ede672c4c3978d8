package graph

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the window within which structural mutations coalesce into
// a single layout pass.
const DefaultDebounce = 50 * time.Millisecond

// ChangeKind identifies the structural mutation that produced a Change.
type ChangeKind int

const (
	ChangeReset ChangeKind = iota
	ChangeMerge
	ChangeRemove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReset:
		return "reset"
	case ChangeMerge:
		return "merge"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Delta lists the IDs of elements added by a mutation.
type Delta struct {
	Nodes []string
	Edges []string
}

// IsEmpty returns true if nothing was added.
func (d Delta) IsEmpty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}

// Change is delivered to subscribers after every structural mutation.
type Change struct {
	Kind         ChangeKind
	Added        Delta
	RemovedNodes []string
	RemovedEdges []string
}

// MergeResult reports what a Merge did with its payload.
type MergeResult struct {
	NodesAdded   int            `json:"nodes_added"`
	NodesSkipped int            `json:"nodes_skipped"`
	EdgesAdded   int            `json:"edges_added"`
	EdgesSkipped int            `json:"edges_skipped"`
	Orphaned     []OrphanedEdge `json:"orphaned,omitempty"`
}

// Changed returns true if the merge added anything to the store.
func (r MergeResult) Changed() bool {
	return r.NodesAdded > 0 || r.EdgesAdded > 0
}

// Options configures a Store.
type Options struct {
	// Engine places nodes after structural changes. Nil disables layout.
	Engine LayoutEngine
	// Debounce is the coalescing window for layout passes. Zero runs the pass
	// synchronously at the end of each mutation (or Batch).
	Debounce time.Duration
	// MaxDeferred bounds the orphan edges remembered for later admission.
	// The oldest are forgotten first. Zero means DefaultMaxDeferred.
	MaxDeferred int
	Logger      *zap.Logger
}

// DefaultMaxDeferred is the default bound on remembered orphan edges.
const DefaultMaxDeferred = 10000

// Store is the canonical, deduplicated graph for one view.
//
// Edges whose endpoints are absent are never stored. They are remembered as
// deferred candidates and admitted by a later Merge that brings the missing
// endpoint, which keeps the result of concurrent merges independent of their
// arrival order. Only the most recent Options.MaxDeferred candidates are kept.
type Store struct {
	mu sync.Mutex

	nodes     map[string]Node
	nodeOrder []string
	edges     map[string]Edge
	edgeOrder []string
	edgeKeys  map[EdgeKey]string
	positions Positions

	deferred      map[string]deferredEdge
	deferredOrder []deferredRef
	deferredSeq   uint64
	maxDeferred   int

	observers []func(Change)
	logger    *zap.Logger

	engine     LayoutEngine
	debounce   time.Duration
	pending    *pendingLayout
	batchDepth int
	timer      *time.Timer
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxDeferred := opts.MaxDeferred
	if maxDeferred <= 0 {
		maxDeferred = DefaultMaxDeferred
	}
	return &Store{
		nodes:       make(map[string]Node),
		edges:       make(map[string]Edge),
		edgeKeys:    make(map[EdgeKey]string),
		deferred:    make(map[string]deferredEdge),
		maxDeferred: maxDeferred,
		positions:   make(Positions),
		logger:      logger,
		engine:      opts.Engine,
		debounce:    opts.Debounce,
	}
}

// Subscribe registers fn to be called after each structural mutation.
// Callbacks run outside the store lock, on the mutating goroutine.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Reset replaces the whole graph.
func (s *Store) Reset(nodes []Node, edges []Edge) {
	s.mu.Lock()
	oldNodes := s.nodes
	oldEdges := s.edges

	s.nodes = make(map[string]Node, len(nodes))
	s.nodeOrder = nil
	s.edges = make(map[string]Edge, len(edges))
	s.edgeOrder = nil
	s.edgeKeys = make(map[EdgeKey]string, len(edges))
	s.deferred = make(map[string]deferredEdge)
	s.deferredOrder = nil
	s.positions = make(Positions)

	var added Delta
	for _, n := range nodes {
		if s.addNodeLocked(n) {
			added.Nodes = append(added.Nodes, n.ID)
		}
	}
	for _, e := range edges {
		if s.hasEdgeLocked(e) {
			continue
		}
		if !s.endpointsPresentLocked(e) {
			continue
		}
		s.addEdgeLocked(e)
		added.Edges = append(added.Edges, e.ID)
	}

	change := Change{Kind: ChangeReset, Added: added}
	for id := range oldNodes {
		if _, ok := s.nodes[id]; !ok {
			change.RemovedNodes = append(change.RemovedNodes, id)
		}
	}
	for id := range oldEdges {
		if _, ok := s.edges[id]; !ok {
			change.RemovedEdges = append(change.RemovedEdges, id)
		}
	}

	s.scheduleLocked(true, added)
	observers := s.observers
	s.mu.Unlock()

	s.logger.Debug("graph reset",
		zap.Int("nodes", len(added.Nodes)),
		zap.Int("edges", len(added.Edges)))
	notify(observers, change)
}

// Merge adds the nodes and edges whose IDs are not already present.
func (s *Store) Merge(nodes []Node, edges []Edge) MergeResult {
	s.mu.Lock()
	var result MergeResult
	var added Delta

	for _, n := range nodes {
		if s.addNodeLocked(n) {
			added.Nodes = append(added.Nodes, n.ID)
			result.NodesAdded++
		} else {
			result.NodesSkipped++
		}
	}

	for _, e := range edges {
		if s.hasEdgeLocked(e) {
			result.EdgesSkipped++
			continue
		}
		if !s.endpointsPresentLocked(e) {
			_, sourceOK := s.nodes[e.Source]
			_, targetOK := s.nodes[e.Target]
			result.Orphaned = append(result.Orphaned, OrphanedEdge{
				EdgeID: e.ID,
				Source: e.Source,
				Target: e.Target,
				Type:   e.Type,
				Reason: orphanReason(sourceOK, targetOK),
			})
			s.deferLocked(e)
			continue
		}
		s.addEdgeLocked(e)
		added.Edges = append(added.Edges, e.ID)
		result.EdgesAdded++
	}

	// Admit previously deferred edges whose endpoints arrived with this payload.
	if len(added.Nodes) > 0 {
		for _, ref := range s.deferredOrder {
			d, ok := s.deferred[ref.id]
			if !ok || d.seq != ref.seq {
				continue
			}
			if s.hasEdgeLocked(d.edge) {
				delete(s.deferred, ref.id)
				continue
			}
			if s.endpointsPresentLocked(d.edge) {
				s.addEdgeLocked(d.edge)
				delete(s.deferred, ref.id)
				added.Edges = append(added.Edges, d.edge.ID)
				result.EdgesAdded++
			}
		}
		s.compactDeferredLocked()
	}

	if !result.Changed() {
		s.mu.Unlock()
		return result
	}

	s.scheduleLocked(false, added)
	observers := s.observers
	s.mu.Unlock()

	s.logger.Debug("graph merge",
		zap.Int("nodes_added", result.NodesAdded),
		zap.Int("edges_added", result.EdgesAdded),
		zap.Int("orphaned", len(result.Orphaned)))
	notify(observers, Change{Kind: ChangeMerge, Added: added})
	return result
}

// Remove deletes a node and every edge that references it. It returns false if
// the node was not present.
func (s *Store) Remove(nodeID string) bool {
	s.mu.Lock()
	if _, ok := s.nodes[nodeID]; !ok {
		s.mu.Unlock()
		return false
	}

	delete(s.nodes, nodeID)
	delete(s.positions, nodeID)
	s.nodeOrder = without(s.nodeOrder, map[string]bool{nodeID: true})

	change := Change{Kind: ChangeRemove, RemovedNodes: []string{nodeID}}
	removed := make(map[string]bool)
	for id, e := range s.edges {
		if e.Source == nodeID || e.Target == nodeID {
			delete(s.edges, id)
			delete(s.edgeKeys, e.Key())
			removed[id] = true
			change.RemovedEdges = append(change.RemovedEdges, id)
		}
	}
	if len(removed) > 0 {
		s.edgeOrder = without(s.edgeOrder, removed)
	}
	for id, d := range s.deferred {
		if d.edge.Source == nodeID || d.edge.Target == nodeID {
			delete(s.deferred, id)
		}
	}
	s.compactDeferredLocked()

	s.scheduleLocked(false, Delta{})
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return true
}

// Contains reports whether a node or edge with the given ID is present.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; ok {
		return true
	}
	_, ok := s.edges[id]
	return ok
}

// HasEdge reports whether an edge with the given triple is present.
func (s *Store) HasEdge(key EdgeKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.edgeKeys[key]
	return ok
}

// Node returns the node with the given ID.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// Edge returns the edge with the given ID.
func (s *Store) Edge(id string) (Edge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	return e, ok
}

// Nodes returns all nodes in insertion order.
func (s *Store) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodesLocked()
}

// Edges returns all edges in insertion order.
func (s *Store) Edges() []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgesLocked()
}

// Snapshot returns a copy of the current graph.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Data{Nodes: s.nodesLocked(), Edges: s.edgesLocked()}
}

// Positions returns a copy of the last computed layout.
func (s *Store) Positions() Positions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions.Clone()
}

// Len returns the number of nodes and edges.
func (s *Store) Len() (nodes, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.edges)
}

func (s *Store) addNodeLocked(n Node) bool {
	if n.ID == "" {
		return false
	}
	if _, ok := s.nodes[n.ID]; ok {
		return false
	}
	if _, ok := s.edges[n.ID]; ok {
		return false
	}
	s.nodes[n.ID] = cloneNode(n)
	s.nodeOrder = append(s.nodeOrder, n.ID)
	return true
}

func (s *Store) hasEdgeLocked(e Edge) bool {
	if _, ok := s.edges[e.ID]; ok {
		return true
	}
	_, ok := s.edgeKeys[e.Key()]
	return ok
}

func (s *Store) endpointsPresentLocked(e Edge) bool {
	_, sourceOK := s.nodes[e.Source]
	_, targetOK := s.nodes[e.Target]
	return sourceOK && targetOK
}

func (s *Store) addEdgeLocked(e Edge) {
	s.edges[e.ID] = e
	s.edgeKeys[e.Key()] = e.ID
	s.edgeOrder = append(s.edgeOrder, e.ID)
}

func (s *Store) nodesLocked() []Node {
	out := make([]Node, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		out = append(out, cloneNode(s.nodes[id]))
	}
	return out
}

func (s *Store) edgesLocked() []Edge {
	out := make([]Edge, 0, len(s.edgeOrder))
	for _, id := range s.edgeOrder {
		out = append(out, s.edges[id])
	}
	return out
}

type deferredEdge struct {
	edge Edge
	seq  uint64
}

type deferredRef struct {
	id  string
	seq uint64
}

// deferLocked remembers an orphan edge, forgetting the oldest candidates once
// more than maxDeferred are held.
func (s *Store) deferLocked(e Edge) {
	s.deferredSeq++
	s.deferred[e.ID] = deferredEdge{edge: e, seq: s.deferredSeq}
	s.deferredOrder = append(s.deferredOrder, deferredRef{id: e.ID, seq: s.deferredSeq})

	evicted := 0
	for len(s.deferred) > s.maxDeferred {
		ref := s.deferredOrder[0]
		s.deferredOrder = s.deferredOrder[1:]
		if d, ok := s.deferred[ref.id]; ok && d.seq == ref.seq {
			delete(s.deferred, ref.id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("forgot deferred edges", zap.Int("evicted", evicted), zap.Int("limit", s.maxDeferred))
	}
	if len(s.deferredOrder) > 2*len(s.deferred)+64 {
		s.compactDeferredLocked()
	}
}

// compactDeferredLocked drops order entries whose candidate is gone or was
// deferred again later.
func (s *Store) compactDeferredLocked() {
	order := make([]deferredRef, 0, len(s.deferred))
	for _, ref := range s.deferredOrder {
		if d, ok := s.deferred[ref.id]; ok && d.seq == ref.seq {
			order = append(order, ref)
		}
	}
	s.deferredOrder = order
}

// Deferred returns the number of orphan edges awaiting an endpoint.
func (s *Store) Deferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

func without(ids []string, drop map[string]bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

func notify(observers []func(Change), change Change) {
	for _, fn := range observers {
		fn(change)
	}
}
