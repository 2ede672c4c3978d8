package graph

import (
	"time"

	"go.uber.org/zap"
)

// LayoutEngine computes node positions. Implementations are free to be
// non-deterministic in exact coordinates.
type LayoutEngine interface {
	// RunFull places every node of the graph.
	RunFull(nodes []Node, edges []Edge) Positions
	// RunIncremental places the newly added elements while keeping the
	// coordinates in current for every other node.
	RunIncremental(current Positions, nodes []Node, edges []Edge, added Delta) Positions
}

// pendingLayout accumulates the mutations of one unit of work.
type pendingLayout struct {
	full  bool
	nodes map[string]bool
	edges map[string]bool
}

func (p *pendingLayout) delta() Delta {
	var d Delta
	for id := range p.nodes {
		d.Nodes = append(d.Nodes, id)
	}
	for id := range p.edges {
		d.Edges = append(d.Edges, id)
	}
	return d
}

// Batch runs fn as a single unit of work: all structural mutations it makes
// produce at most one layout pass, scheduled when fn returns.
func (s *Store) Batch(fn func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.batchDepth--
		if s.batchDepth == 0 && s.pending != nil {
			s.armLocked()
		}
		s.mu.Unlock()
	}()

	fn()
}

// Relayout requests a full layout pass, as when the user toggles re-layout.
func (s *Store) Relayout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(true, Delta{})
}

// Flush runs any pending layout pass immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	p := s.pending
	s.pending = nil
	s.runLayoutLocked(p)
}

// Close stops the debounce timer without running the pending pass.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

func (s *Store) scheduleLocked(full bool, added Delta) {
	if s.engine == nil {
		return
	}
	if s.pending == nil {
		s.pending = &pendingLayout{
			nodes: make(map[string]bool),
			edges: make(map[string]bool),
		}
	}
	if full {
		s.pending.full = true
	}
	for _, id := range added.Nodes {
		s.pending.nodes[id] = true
	}
	for _, id := range added.Edges {
		s.pending.edges[id] = true
	}
	if s.batchDepth > 0 {
		return
	}
	s.armLocked()
}

// armLocked starts the coalescing window. The window is fixed from the first
// mutation so a steady stream of merges cannot postpone layout forever.
func (s *Store) armLocked() {
	if s.debounce <= 0 {
		p := s.pending
		s.pending = nil
		s.runLayoutLocked(p)
		return
	}
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

func (s *Store) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	p := s.pending
	s.pending = nil
	s.runLayoutLocked(p)
}

func (s *Store) runLayoutLocked(p *pendingLayout) {
	if p == nil || s.engine == nil {
		return
	}

	nodes := s.nodesLocked()
	edges := s.edgesLocked()

	var positions Positions
	if p.full || len(s.positions) == 0 {
		positions = s.engine.RunFull(nodes, edges)
		s.logger.Debug("layout full pass", zap.Int("nodes", len(nodes)))
	} else {
		// Elements added and removed inside the same window are not laid out.
		added := p.delta()
		live := Delta{}
		for _, id := range added.Nodes {
			if _, ok := s.nodes[id]; ok {
				live.Nodes = append(live.Nodes, id)
			}
		}
		for _, id := range added.Edges {
			if _, ok := s.edges[id]; ok {
				live.Edges = append(live.Edges, id)
			}
		}
		positions = s.engine.RunIncremental(s.positions.Clone(), nodes, edges, live)
		s.logger.Debug("layout incremental pass", zap.Int("new_nodes", len(live.Nodes)))
	}

	s.positions = make(Positions, len(positions))
	for id, pos := range positions {
		if _, ok := s.nodes[id]; ok {
			s.positions[id] = pos
		}
	}
}
