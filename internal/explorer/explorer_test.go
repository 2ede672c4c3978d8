package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/notify"
	"github.com/matsen/ontoscope/internal/selection"
	"github.com/matsen/ontoscope/internal/workflow"
)

// fakeBackend serves a fixed schema and neighborhood and records writes.
type fakeBackend struct {
	mu            sync.Mutex
	schema        backend.Schema
	neighbors     map[string][]backend.Neighbor
	schemaFetches int
	created       []backend.Relationship
	deleted       []backend.Relationship
	classes       []string
	fail          error
	chat          string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		schema: backend.Schema{
			Nodes: []backend.SchemaClass{
				{Name: "Person", DataProperties: []string{"age"}, Color: "#ff0000"},
				{Name: "Company"},
			},
			Relationships: []backend.SchemaRelationship{{Source: "Person", Type: "WORKS_AT", Target: "Company"}},
		},
		neighbors: map[string][]backend.Neighbor{
			"alice": {
				{Name: "alice", Labels: []string{"Person"}, Relationships: []backend.NeighborRelationship{
					{ID: "1", Source: "alice", Target: "acme", Type: "WORKS_AT"},
				}},
				{Name: "acme", Labels: []string{"Company"}},
			},
			"bob": {
				{Name: "bob", Labels: []string{"Person"}, Relationships: []backend.NeighborRelationship{
					{Source: "bob", Target: "acme", Type: "WORKS_AT"},
				}},
				{Name: "acme", Labels: []string{"Company"}},
			},
		},
	}
}

func (f *fakeBackend) FetchSchema(ctx context.Context) (*backend.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.schemaFetches++
	s := f.schema
	return &s, nil
}

func (f *fakeBackend) FetchNeighbors(ctx context.Context, name string, hops int) ([]backend.Neighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	n, ok := f.neighbors[name]
	if !ok {
		return nil, fmt.Errorf("entity %q: %w", name, backend.ErrNotFound)
	}
	return n, nil
}

func (f *fakeBackend) CreateRelationship(ctx context.Context, rel backend.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.created = append(f.created, rel)
	f.schema.Relationships = append(f.schema.Relationships, backend.SchemaRelationship{Source: rel.Source, Type: rel.Type, Target: rel.Target})
	return nil
}

func (f *fakeBackend) DeleteRelationship(ctx context.Context, rel backend.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, rel)
	kept := f.schema.Relationships[:0]
	for _, r := range f.schema.Relationships {
		if r.Source != rel.Source || r.Type != rel.Type || r.Target != rel.Target {
			kept = append(kept, r)
		}
	}
	f.schema.Relationships = kept
	return nil
}

func (f *fakeBackend) CreateClass(ctx context.Context, spec backend.ClassSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes = append(f.classes, spec.Name)
	f.schema.Nodes = append(f.schema.Nodes, backend.SchemaClass{Name: spec.Name, DataProperties: spec.DataProperties, Color: spec.Color})
	return nil
}

func (f *fakeBackend) UpdateClass(ctx context.Context, name string, spec backend.ClassSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.schema.Nodes {
		if c.Name == name {
			f.schema.Nodes[i] = backend.SchemaClass{Name: spec.Name, DataProperties: spec.DataProperties, Color: spec.Color}
			return nil
		}
	}
	return fmt.Errorf("class %q: %w", name, backend.ErrNotFound)
}

func (f *fakeBackend) DeleteClass(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.schema.Nodes[:0]
	for _, c := range f.schema.Nodes {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	f.schema.Nodes = kept
	return nil
}

func (f *fakeBackend) OpenChatStream(ctx context.Context, query string, id *int64) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.chat)), nil
}

func (f *fakeBackend) GenerateTitle(ctx context.Context, id int64) (string, error) {
	return "Title", nil
}

func (f *fakeBackend) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func newExplorer(t *testing.T, b *fakeBackend) *Explorer {
	t.Helper()
	e := New(b, Options{})
	t.Cleanup(e.Close)
	return e
}

func TestLoadSchema(t *testing.T) {
	e := newExplorer(t, newFakeBackend())
	require.NoError(t, e.LoadSchema(context.Background()))

	n, ok := e.Schema.Node("Person")
	require.True(t, ok)
	assert.Equal(t, SchemaNodeKind, n.Kind)
	assert.Equal(t, "#ff0000", n.Color)
	assert.Equal(t, []string{"age"}, n.Properties["dataProperties"])
	assert.True(t, e.Schema.HasEdge(graph.EdgeKey{Source: "Person", Target: "Company", Type: "WORKS_AT"}))
	assert.Len(t, e.Schema.Positions(), 2, "the load is laid out")
}

func TestLoadSchema_FailureKeepsStore(t *testing.T) {
	b := newFakeBackend()
	e := newExplorer(t, b)
	require.NoError(t, e.LoadSchema(context.Background()))

	b.setFail(fmt.Errorf("fetching schema: %w", backend.ErrTransport))
	require.Error(t, e.LoadSchema(context.Background()))

	assert.True(t, e.Schema.Contains("Person"))
	recent := e.Notifications.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, notify.KindTransport, recent[0].Kind)
}

func TestClickRouting(t *testing.T) {
	b := newFakeBackend()
	e := newExplorer(t, b)
	ctx := context.Background()
	require.NoError(t, e.LoadSchema(ctx))

	// Idle: clicks select.
	require.NoError(t, e.ClickSchemaNode("Person"))
	assert.Equal(t, selection.Node(mustNode(t, e.Schema, "Person")), e.SchemaSelection.Current())
	assert.ErrorIs(t, e.ClickSchemaNode("Nope"), ErrUnknownElement)

	// Active: clicks feed the workflow and selection is cleared by Start.
	require.NoError(t, e.Workflow.Start())
	assert.Equal(t, selection.None, e.SchemaSelection.Current())
	require.NoError(t, e.ClickSchemaNode("Person"))
	assert.ErrorIs(t, e.ClickSchemaNode("Person"), workflow.ErrSelfLoop)
	require.NoError(t, e.ClickSchemaNode("Company"))
	assert.Equal(t, workflow.AwaitingType, e.Workflow.State())
	assert.Equal(t, selection.None, e.SchemaSelection.Current(), "workflow clicks do not select")

	require.NoError(t, e.Workflow.SetType("FOUNDED"))
	require.NoError(t, e.Workflow.Confirm(ctx))

	assert.Equal(t, workflow.Idle, e.Workflow.State())
	assert.Equal(t, []backend.Relationship{{Source: "Person", Type: "FOUNDED", Target: "Company"}}, b.created)
	assert.True(t, e.Schema.HasEdge(graph.EdgeKey{Source: "Person", Target: "Company", Type: "FOUNDED"}),
		"confirm reloads the schema")
}

func TestEnterEditModeCancelsWorkflow(t *testing.T) {
	e := newExplorer(t, newFakeBackend())
	require.NoError(t, e.LoadSchema(context.Background()))

	require.NoError(t, e.Workflow.Start())
	require.NoError(t, e.ClickSchemaNode("Person"))
	assert.True(t, e.SchemaSelection.ToggleEditMode())
	assert.Equal(t, workflow.Idle, e.Workflow.State())
	assert.Empty(t, e.Workflow.Draft().SourceClassID)
}

func TestClickEdge(t *testing.T) {
	e := newExplorer(t, newFakeBackend())
	require.NoError(t, e.LoadSchema(context.Background()))

	key := graph.EdgeKey{Source: "Person", Target: "Company", Type: "WORKS_AT"}
	require.NoError(t, e.ClickSchemaEdge(key))
	sel, ok := e.SchemaSelection.Current().(selection.EdgeSelection)
	require.True(t, ok)
	assert.Equal(t, key, sel.Edge.Key())

	assert.ErrorIs(t, e.ClickSchemaEdge(graph.EdgeKey{Source: "a", Target: "b", Type: "c"}), ErrUnknownElement)
}

func TestClickEdge_WorkflowActive(t *testing.T) {
	e := newExplorer(t, newFakeBackend())
	require.NoError(t, e.LoadSchema(context.Background()))
	key := graph.EdgeKey{Source: "Person", Target: "Company", Type: "WORKS_AT"}

	for _, clicks := range [][]string{nil, {"Person"}, {"Person", "Company"}} {
		require.NoError(t, e.Workflow.Start())
		for _, id := range clicks {
			require.NoError(t, e.ClickSchemaNode(id))
		}
		state, draft := e.Workflow.State(), e.Workflow.Draft()

		assert.ErrorIs(t, e.ClickSchemaEdge(key), workflow.ErrInvalidTransition)
		assert.Equal(t, selection.None, e.SchemaSelection.Current(), "state %s", state)
		assert.Equal(t, state, e.Workflow.State())
		assert.Equal(t, draft, e.Workflow.Draft())
		require.NoError(t, e.Workflow.Cancel())
	}

	require.NoError(t, e.ClickSchemaEdge(key))
	assert.IsType(t, selection.EdgeSelection{}, e.SchemaSelection.Current())
}

func TestDeleteRelationshipClearsSelection(t *testing.T) {
	b := newFakeBackend()
	e := newExplorer(t, b)
	ctx := context.Background()
	require.NoError(t, e.LoadSchema(ctx))

	rel := backend.Relationship{Source: "Person", Type: "WORKS_AT", Target: "Company"}
	require.NoError(t, e.ClickSchemaEdge(graph.EdgeKey{Source: rel.Source, Target: rel.Target, Type: rel.Type}))
	require.NoError(t, e.DeleteRelationship(ctx, rel))

	assert.Equal(t, []backend.Relationship{rel}, b.deleted)
	assert.False(t, e.Schema.HasEdge(graph.EdgeKey{Source: rel.Source, Target: rel.Target, Type: rel.Type}))
	assert.Equal(t, selection.None, e.SchemaSelection.Current())
}

func TestDeleteSelfLoopRelationship(t *testing.T) {
	b := newFakeBackend()
	loop := backend.Relationship{Source: "Person", Type: "MANAGES", Target: "Person"}
	b.schema.Relationships = append(b.schema.Relationships,
		backend.SchemaRelationship{Source: loop.Source, Type: loop.Type, Target: loop.Target})
	e := newExplorer(t, b)
	ctx := context.Background()
	require.NoError(t, e.LoadSchema(ctx))
	key := graph.EdgeKey{Source: "Person", Target: "Person", Type: "MANAGES"}
	require.True(t, e.Schema.HasEdge(key))

	require.NoError(t, e.DeleteRelationship(ctx, loop))
	assert.Equal(t, []backend.Relationship{loop}, b.deleted)
	assert.False(t, e.Schema.HasEdge(key))
}

func TestClassWrites(t *testing.T) {
	b := newFakeBackend()
	e := newExplorer(t, b)
	ctx := context.Background()
	require.NoError(t, e.LoadSchema(ctx))

	require.NoError(t, e.CreateClass(ctx, backend.ClassSpec{Name: "Project", Color: "#00ff00"}))
	assert.True(t, e.Schema.Contains("Project"))

	require.NoError(t, e.UpdateClass(ctx, "Project", backend.ClassSpec{Name: "Initiative"}))
	assert.False(t, e.Schema.Contains("Project"))
	assert.True(t, e.Schema.Contains("Initiative"))

	require.NoError(t, e.ClickSchemaNode("Initiative"))
	require.NoError(t, e.DeleteClass(ctx, "Initiative"))
	assert.False(t, e.Schema.Contains("Initiative"))
	assert.Equal(t, selection.None, e.SchemaSelection.Current())

	err := e.CreateClass(ctx, backend.ClassSpec{Name: "Bad", Color: "red"})
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
	assert.ErrorIs(t, e.DeleteClass(ctx, ""), backend.ErrInvalidRequest)
}

func TestExpandAndFocus(t *testing.T) {
	e := newExplorer(t, newFakeBackend())
	ctx := context.Background()

	res, err := e.Expand(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesAdded)
	assert.Equal(t, 1, res.EdgesAdded)

	e.ExpandAsync(ctx, "bob", 0)
	e.WaitExpansions()
	nodes, edges := e.Instances.Len()
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, edges)

	require.NoError(t, e.ClickInstanceNode("alice"))

	// Focus resets rather than merges.
	require.NoError(t, e.Focus(ctx, "bob", 0))
	assert.False(t, e.Instances.Contains("alice"))
	assert.True(t, e.Instances.Contains("bob"))
	assert.Equal(t, selection.None, e.InstanceSelection.Current(), "removed entity is deselected")
}

func TestFocus_FailureKeepsInstances(t *testing.T) {
	e := newExplorer(t, newFakeBackend())
	ctx := context.Background()
	_, err := e.Expand(ctx, "alice", 1)
	require.NoError(t, err)

	err = e.Focus(ctx, "nobody", 1)
	assert.True(t, errors.Is(err, backend.ErrNotFound))
	assert.True(t, e.Instances.Contains("alice"))
	assert.ErrorIs(t, e.Focus(ctx, "", 1), backend.ErrInvalidRequest)
}

func TestAskFillsPreview(t *testing.T) {
	b := newFakeBackend()
	b.chat = strings.Join([]string{
		`data: {"type":"conversation_id","conversation_id":3}`,
		`data: {"type":"content","content":"Alice works at Acme."}`,
		`data: {"type":"graph_data","graph_data":{"nodes":[{"id":"alice"},{"id":"acme"}],"edges":[{"source":"alice","target":"acme","type":"WORKS_AT"}]}}`,
		`data: [DONE]`,
	}, "\n")
	e := newExplorer(t, b)

	require.NoError(t, e.Ask(context.Background(), "where does alice work?"))
	e.Chat.Wait()
	e.Chat.WaitTitles()

	last, ok := e.Chat.Conversation().Last()
	require.True(t, ok)
	assert.Equal(t, "Alice works at Acme.", last.Content)
	assert.Equal(t, "Title", e.Chat.Conversation().Title())
	assert.True(t, e.Preview.HasEdge(graph.EdgeKey{Source: "alice", Target: "acme", Type: "WORKS_AT"}))

	e.SwitchConversation(nil, "", nil)
	assert.False(t, e.Preview.Contains("alice"))
}

func mustNode(t *testing.T, s *graph.Store, id string) graph.Node {
	t.Helper()
	n, ok := s.Node(id)
	require.True(t, ok)
	return n
}
