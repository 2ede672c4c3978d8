package graph

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEngine places every node at the origin plus its index and records calls.
type countingEngine struct {
	mu          sync.Mutex
	full        int
	incremental int
	lastAdded   Delta
}

func (e *countingEngine) RunFull(nodes []Node, edges []Edge) Positions {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.full++
	out := make(Positions, len(nodes))
	for i, n := range nodes {
		out[n.ID] = Position{X: float64(i), Y: float64(i)}
	}
	return out
}

func (e *countingEngine) RunIncremental(current Positions, nodes []Node, edges []Edge, added Delta) Positions {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.incremental++
	e.lastAdded = added
	for i, id := range added.Nodes {
		current[id] = Position{X: float64(100 + i), Y: 0}
	}
	return current
}

func (e *countingEngine) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.full, e.incremental
}

func nodes(ids ...string) []Node {
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = Node{ID: id, Label: id, Kind: "Class"}
	}
	return out
}

func edge(source, target, relType string) Edge {
	return NewEdge("", source, target, relType)
}

// assertConsistent checks the two structural invariants of a store.
func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	data := s.Snapshot()
	seenNodes := make(map[string]bool)
	for _, n := range data.Nodes {
		require.False(t, seenNodes[n.ID], "duplicate node %s", n.ID)
		seenNodes[n.ID] = true
	}
	seenEdges := make(map[string]bool)
	seenKeys := make(map[EdgeKey]bool)
	for _, e := range data.Edges {
		require.False(t, seenEdges[e.ID], "duplicate edge %s", e.ID)
		require.False(t, seenKeys[e.Key()], "duplicate edge triple %v", e.Key())
		seenEdges[e.ID] = true
		seenKeys[e.Key()] = true
		require.True(t, seenNodes[e.Source], "edge %s has dangling source", e.ID)
		require.True(t, seenNodes[e.Target], "edge %s has dangling target", e.ID)
	}
}

func TestStore_Merge(t *testing.T) {
	t.Run("adds only new ids", func(t *testing.T) {
		s := NewStore(Options{})
		s.Merge(nodes("A", "B"), []Edge{edge("A", "B", "knows")})

		result := s.Merge(nodes("B", "C"), []Edge{edge("A", "B", "knows"), edge("B", "C", "knows")})

		assert.Equal(t, 1, result.NodesAdded)
		assert.Equal(t, 1, result.NodesSkipped)
		assert.Equal(t, 1, result.EdgesAdded)
		assert.Equal(t, 1, result.EdgesSkipped)
		n, e := s.Len()
		assert.Equal(t, 3, n)
		assert.Equal(t, 2, e)
		assertConsistent(t, s)
	})

	t.Run("drops edges with absent endpoints", func(t *testing.T) {
		s := NewStore(Options{})
		result := s.Merge(nodes("A"), []Edge{edge("A", "Z", "knows"), edge("Y", "Z", "knows")})

		require.Len(t, result.Orphaned, 2)
		assert.Equal(t, "missing_target", result.Orphaned[0].Reason)
		assert.Equal(t, "missing_both", result.Orphaned[1].Reason)
		_, e := s.Len()
		assert.Equal(t, 0, e)
		assertConsistent(t, s)
	})

	t.Run("is idempotent", func(t *testing.T) {
		payloadNodes := nodes("A", "B", "C")
		payloadEdges := []Edge{edge("A", "B", "r"), edge("B", "C", "r"), edge("C", "D", "r")}

		once := NewStore(Options{})
		once.Merge(payloadNodes, payloadEdges)

		twice := NewStore(Options{})
		twice.Merge(payloadNodes, payloadEdges)
		second := twice.Merge(payloadNodes, payloadEdges)

		assert.False(t, second.Changed())
		if diff := cmp.Diff(once.Snapshot(), twice.Snapshot()); diff != "" {
			t.Errorf("merge twice differs from merge once (-once +twice):\n%s", diff)
		}
	})

	t.Run("dedups the same triple under both id schemes", func(t *testing.T) {
		s := NewStore(Options{})
		s.Merge(nodes("A", "B"), []Edge{NewEdge("17", "A", "B", "knows")})
		result := s.Merge(nil, []Edge{NewEdge("", "A", "B", "knows")})

		assert.Equal(t, 1, result.EdgesSkipped)
		_, e := s.Len()
		assert.Equal(t, 1, e)
		assert.True(t, s.Contains("rel:17"))
	})

	t.Run("admits deferred edge when its endpoint arrives", func(t *testing.T) {
		s := NewStore(Options{})
		s.Merge(nodes("A"), []Edge{edge("A", "B", "knows")})
		result := s.Merge(nodes("B"), nil)

		assert.Equal(t, 1, result.EdgesAdded)
		assert.True(t, s.HasEdge(EdgeKey{Source: "A", Target: "B", Type: "knows"}))
		assertConsistent(t, s)
	})

	t.Run("bounds deferred edges oldest first", func(t *testing.T) {
		s := NewStore(Options{MaxDeferred: 2})
		s.Merge(nodes("A"), []Edge{edge("A", "X", "r"), edge("A", "Y", "r")})
		s.Merge(nil, []Edge{edge("A", "Z", "r")})
		assert.Equal(t, 2, s.Deferred())

		result := s.Merge(nodes("X", "Y", "Z"), nil)
		assert.Equal(t, 2, result.EdgesAdded)
		assert.False(t, s.HasEdge(EdgeKey{Source: "A", Target: "X", Type: "r"}), "oldest candidate forgotten")
		assert.True(t, s.HasEdge(EdgeKey{Source: "A", Target: "Y", Type: "r"}))
		assert.True(t, s.HasEdge(EdgeKey{Source: "A", Target: "Z", Type: "r"}))
		assert.Zero(t, s.Deferred())
		assertConsistent(t, s)
	})

	t.Run("re-deferring an edge refreshes its age", func(t *testing.T) {
		s := NewStore(Options{MaxDeferred: 2})
		s.Merge(nodes("A"), []Edge{edge("A", "X", "r"), edge("A", "Y", "r")})
		s.Merge(nil, []Edge{edge("A", "X", "r"), edge("A", "Z", "r")})
		assert.Equal(t, 2, s.Deferred())

		s.Merge(nodes("X", "Y", "Z"), nil)
		assert.True(t, s.HasEdge(EdgeKey{Source: "A", Target: "X", Type: "r"}))
		assert.False(t, s.HasEdge(EdgeKey{Source: "A", Target: "Y", Type: "r"}))
		assert.True(t, s.HasEdge(EdgeKey{Source: "A", Target: "Z", Type: "r"}))
	})

	t.Run("remove and reset drop deferred edges", func(t *testing.T) {
		s := NewStore(Options{})
		s.Merge(nodes("A", "B"), []Edge{edge("A", "X", "r"), edge("B", "Y", "r")})
		s.Remove("A")
		assert.Equal(t, 1, s.Deferred())
		s.Reset(nodes("B"), nil)
		assert.Zero(t, s.Deferred())
	})

	t.Run("ignores nodes without id", func(t *testing.T) {
		s := NewStore(Options{})
		result := s.Merge([]Node{{Label: "anonymous"}}, nil)
		assert.Equal(t, 0, result.NodesAdded)
		assert.Equal(t, 1, result.NodesSkipped)
	})
}

func TestStore_MergeOrderIndependent(t *testing.T) {
	first := func() ([]Node, []Edge) {
		return nodes("hub", "a", "b"), []Edge{edge("hub", "a", "r"), edge("hub", "b", "r"), edge("b", "c", "r")}
	}
	second := func() ([]Node, []Edge) {
		return nodes("hub", "b", "c"), []Edge{edge("hub", "b", "r"), edge("b", "c", "r"), edge("c", "hub", "r")}
	}

	ab := NewStore(Options{})
	ab.Merge(first())
	ab.Merge(second())

	ba := NewStore(Options{})
	ba.Merge(second())
	ba.Merge(first())

	sortNodes := cmpopts.SortSlices(func(a, b Node) bool { return a.ID < b.ID })
	sortEdges := cmpopts.SortSlices(func(a, b Edge) bool { return a.ID < b.ID })
	if diff := cmp.Diff(ab.Snapshot(), ba.Snapshot(), sortNodes, sortEdges); diff != "" {
		t.Errorf("merge order changed the result (-ab +ba):\n%s", diff)
	}
	assertConsistent(t, ab)
	n, e := ab.Len()
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, e)
}

func TestStore_ConcurrentMerges(t *testing.T) {
	s := NewStore(Options{Engine: &countingEngine{}, Debounce: DefaultDebounce})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := fmt.Sprintf("n%d", i%5)
			b := fmt.Sprintf("n%d", (i+1)%5)
			s.Merge(nodes(a, b), []Edge{edge(a, b, "next")})
		}(i)
	}
	wg.Wait()
	s.Flush()

	assertConsistent(t, s)
	n, e := s.Len()
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, e)
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(Options{})
	s.Reset(nodes("A", "B", "C"), []Edge{edge("A", "B", "r"), edge("B", "C", "r"), edge("A", "C", "r")})

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	require.True(t, s.Remove("B"))
	assert.False(t, s.Contains("B"))
	n, e := s.Len()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e)
	assertConsistent(t, s)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeRemove, changes[0].Kind)
	assert.Equal(t, []string{"B"}, changes[0].RemovedNodes)
	assert.ElementsMatch(t, []string{edge("A", "B", "r").ID, edge("B", "C", "r").ID}, changes[0].RemovedEdges)

	assert.False(t, s.Remove("B"), "removing an absent node is a no-op")
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(Options{})
	s.Merge(nodes("old"), nil)

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Reset(nodes("A", "B", "A"), []Edge{edge("A", "B", "r"), edge("A", "missing", "r")})

	assert.False(t, s.Contains("old"))
	n, e := s.Len()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeReset, changes[0].Kind)
	assert.Equal(t, []string{"old"}, changes[0].RemovedNodes)
}

func TestStore_LayoutScheduling(t *testing.T) {
	t.Run("reset runs exactly one full pass", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine})

		s.Reset(nodes("A", "B"), []Edge{edge("A", "B", "r")})

		full, incremental := engine.counts()
		assert.Equal(t, 1, full)
		assert.Equal(t, 0, incremental)
		assert.Len(t, s.Positions(), 2)
	})

	t.Run("merges in a batch coalesce", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine})
		s.Reset(nodes("A"), nil)

		s.Batch(func() {
			s.Merge(nodes("B"), []Edge{edge("A", "B", "r")})
			s.Merge(nodes("C"), []Edge{edge("A", "C", "r")})
			s.Merge(nodes("D"), nil)
		})

		full, incremental := engine.counts()
		assert.Equal(t, 1, full)
		assert.Equal(t, 1, incremental)
		assert.ElementsMatch(t, []string{"B", "C", "D"}, engine.lastAdded.Nodes)
		assert.Len(t, s.Positions(), 4)
	})

	t.Run("reset inside a batch makes the pass full", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine})

		s.Batch(func() {
			s.Merge(nodes("A"), nil)
			s.Reset(nodes("X", "Y"), nil)
			s.Merge(nodes("Z"), nil)
		})

		full, incremental := engine.counts()
		assert.Equal(t, 1, full)
		assert.Equal(t, 0, incremental)
	})

	t.Run("debounced mutations coalesce until flushed", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine, Debounce: DefaultDebounce * 100})
		defer s.Close()

		s.Reset(nodes("A"), nil)
		s.Merge(nodes("B"), nil)
		s.Merge(nodes("C"), nil)

		full, incremental := engine.counts()
		assert.Equal(t, 0, full+incremental, "no pass before the window closes")

		s.Flush()
		full, incremental = engine.counts()
		assert.Equal(t, 1, full)
		assert.Equal(t, 0, incremental)
	})

	t.Run("empty merge schedules nothing", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine})
		s.Reset(nodes("A"), nil)

		s.Merge(nodes("A"), nil)

		full, incremental := engine.counts()
		assert.Equal(t, 1, full)
		assert.Equal(t, 0, incremental)
	})

	t.Run("relayout requests a full pass", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine})
		s.Reset(nodes("A"), nil)

		s.Relayout()

		full, _ := engine.counts()
		assert.Equal(t, 2, full)
	})

	t.Run("remove drops the node position", func(t *testing.T) {
		engine := &countingEngine{}
		s := NewStore(Options{Engine: engine})
		s.Reset(nodes("A", "B"), nil)

		s.Remove("A")

		_, ok := s.Positions()["A"]
		assert.False(t, ok)
		_, incremental := engine.counts()
		assert.Equal(t, 1, incremental)
	})
}

func TestEdgeID(t *testing.T) {
	tests := []struct {
		name      string
		backendID string
		want      string
	}{
		{"backend id wins", "42", "rel:42"},
		{"composite fallback", "", "edge:A|knows|B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EdgeID(tt.backendID, "A", "B", "knows"))
		})
	}
}
