package local

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/ontoscope/internal/backend"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// fixture creates a small company graph:
//
//	Alice -WORKS_AT-> Acme <-WORKS_AT- Bob
//	Acme -LOCATED_IN-> Paris
//	Zed (isolated)
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, ClassesFile, `{"name":"Person","aliases":["Human"],"dataProperties":["age"]}
{"name":"Company","color":"#336699"}
{"name":"City"}
`)
	writeFile(t, dir, SchemaRelationshipsFile, `{"source":"Person","type":"WORKS_AT","target":"Company"}
{"source":"Company","type":"LOCATED_IN","target":"City"}
`)
	writeFile(t, dir, EntitiesFile, `{"name":"Alice","labels":["Person"],"properties":{"age":30}}
{"name":"Bob","labels":["Person"]}
{"name":"Acme","labels":["Company"]}

{"name":"Paris","labels":["City"]}
{"name":"Zed","labels":["Person"]}
`)
	writeFile(t, dir, RelationsFile, `{"id":"r1","source":"Alice","target":"Acme","type":"WORKS_AT"}
{"id":"r2","source":"Bob","target":"Acme","type":"WORKS_AT"}
{"source":"Acme","target":"Paris","type":"LOCATED_IN"}
`)
	return dir
}

func openFixture(t *testing.T) (*Backend, string) {
	t.Helper()
	dir := fixture(t)
	b, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, dir
}

func names(neighbors []backend.Neighbor) []string {
	var out []string
	for _, n := range neighbors {
		out = append(out, n.Name)
	}
	return out
}

func TestOpen_EmptyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	schema, err := b.FetchSchema(context.Background())
	require.NoError(t, err)
	assert.Empty(t, schema.Nodes)
	assert.Empty(t, schema.Relationships)
}

func TestOpen_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ClassesFile, "{\"name\":\"Person\"}\nnot json\n")

	_, err := Open(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFetchSchema(t *testing.T) {
	b, _ := openFixture(t)

	schema, err := b.FetchSchema(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []backend.SchemaClass{
		{Name: "Person", Aliases: []string{"Human"}, DataProperties: []string{"age"}},
		{Name: "Company", Color: "#336699"},
		{Name: "City"},
	}, schema.Nodes)
	assert.Equal(t, []backend.SchemaRelationship{
		{Source: "Person", Type: "WORKS_AT", Target: "Company"},
		{Source: "Company", Type: "LOCATED_IN", Target: "City"},
	}, schema.Relationships)
}

func TestFetchNeighbors_HopLimits(t *testing.T) {
	b, _ := openFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		start string
		hops  int
		want  []string
	}{
		{"one hop", "Alice", 1, []string{"Alice", "Acme"}},
		{"two hops", "Alice", 2, []string{"Alice", "Acme", "Bob", "Paris"}},
		{"beyond graph", "Alice", 5, []string{"Alice", "Acme", "Bob", "Paris"}},
		{"isolated", "Zed", 3, []string{"Zed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.FetchNeighbors(ctx, tt.start, tt.hops)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, names(got))
			assert.Equal(t, tt.start, got[0].Name)
		})
	}
}

func TestFetchNeighbors_Records(t *testing.T) {
	b, _ := openFixture(t)

	got, err := b.FetchNeighbors(context.Background(), "Alice", 1)
	require.NoError(t, err)
	require.Len(t, got, 2)

	alice := got[0]
	assert.Equal(t, []string{"Person"}, alice.Labels)
	assert.Equal(t, float64(30), alice.Properties["age"])
	assert.Equal(t, []backend.NeighborRelationship{
		{ID: "r1", Source: "Alice", Target: "Acme", Type: "WORKS_AT"},
	}, alice.Relationships)

	// Acme's relations reach beyond the response; the store drops those.
	acme := got[1]
	assert.Len(t, acme.Relationships, 3)
}

func TestFetchNeighbors_Errors(t *testing.T) {
	b, _ := openFixture(t)
	ctx := context.Background()

	_, err := b.FetchNeighbors(ctx, "Nobody", 1)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.FetchNeighbors(ctx, "Alice", 0)
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.FetchNeighbors(cancelled, "Alice", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateRelationship(t *testing.T) {
	b, dir := openFixture(t)
	ctx := context.Background()
	rel := backend.Relationship{Source: "Person", Type: "LIVES_IN", Target: "City"}

	require.NoError(t, b.CreateRelationship(ctx, rel))
	// Second create is a no-op.
	require.NoError(t, b.CreateRelationship(ctx, rel))

	schema, err := b.FetchSchema(ctx)
	require.NoError(t, err)
	assert.Contains(t, schema.Relationships, backend.SchemaRelationship{Source: "Person", Type: "LIVES_IN", Target: "City"})

	records, err := readJSONL[SchemaRelationshipRecord](filepath.Join(dir, SchemaRelationshipsFile))
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// The JSONL is the source of truth: a fresh open sees the write.
	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	schema, err = reopened.FetchSchema(ctx)
	require.NoError(t, err)
	assert.Len(t, schema.Relationships, 3)
}

func TestCreateRelationship_Errors(t *testing.T) {
	b, _ := openFixture(t)
	ctx := context.Background()

	err := b.CreateRelationship(ctx, backend.Relationship{Source: "Person", Type: "OWNS", Target: "Planet"})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	err = b.CreateRelationship(ctx, backend.Relationship{Source: "Person", Type: "", Target: "City"})
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
}

func TestDeleteRelationship(t *testing.T) {
	b, dir := openFixture(t)
	ctx := context.Background()
	rel := backend.Relationship{Source: "Person", Type: "WORKS_AT", Target: "Company"}

	require.NoError(t, b.DeleteRelationship(ctx, rel))
	assert.ErrorIs(t, b.DeleteRelationship(ctx, rel), backend.ErrNotFound)

	records, err := readJSONL[SchemaRelationshipRecord](filepath.Join(dir, SchemaRelationshipsFile))
	require.NoError(t, err)
	assert.Equal(t, []SchemaRelationshipRecord{{Source: "Company", Type: "LOCATED_IN", Target: "City"}}, records)
}

func TestSelfLoopRelationship(t *testing.T) {
	dir := fixture(t)
	writeFile(t, dir, SchemaRelationshipsFile, `{"source":"Person","type":"MANAGES","target":"Person"}
`)
	b, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()
	loop := backend.Relationship{Source: "Person", Type: "MANAGES", Target: "Person"}

	assert.ErrorIs(t, b.CreateRelationship(ctx, backend.Relationship{Source: "City", Type: "TWINNED", Target: "City"}),
		backend.ErrInvalidRequest)
	require.NoError(t, b.DeleteRelationship(ctx, loop))

	schema, err := b.FetchSchema(ctx)
	require.NoError(t, err)
	assert.Empty(t, schema.Relationships)
}

func TestClassLifecycle(t *testing.T) {
	b, dir := openFixture(t)
	ctx := context.Background()

	spec := backend.ClassSpec{Name: "Project", Label: "Project", DataProperties: []string{"budget"}, Color: "#ff8800"}
	require.NoError(t, b.CreateClass(ctx, spec))
	assert.ErrorIs(t, b.CreateClass(ctx, spec), backend.ErrInvalidRequest)

	require.NoError(t, b.CreateRelationship(ctx, backend.Relationship{Source: "Person", Type: "LEADS", Target: "Project"}))

	t.Run("rename follows relationships", func(t *testing.T) {
		renamed := backend.ClassSpec{Name: "Initiative", DataProperties: []string{"budget", "deadline"}}
		require.NoError(t, b.UpdateClass(ctx, "Project", renamed))

		schema, err := b.FetchSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Initiative", schema.Nodes[3].Name)
		assert.Equal(t, []string{"budget", "deadline"}, schema.Nodes[3].DataProperties)
		assert.Contains(t, schema.Relationships, backend.SchemaRelationship{Source: "Person", Type: "LEADS", Target: "Initiative"})
	})

	t.Run("update missing class", func(t *testing.T) {
		err := b.UpdateClass(ctx, "Project", backend.ClassSpec{Name: "Project"})
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("rename onto existing class", func(t *testing.T) {
		err := b.UpdateClass(ctx, "Initiative", backend.ClassSpec{Name: "Person"})
		assert.ErrorIs(t, err, backend.ErrInvalidRequest)
	})

	t.Run("delete cascades", func(t *testing.T) {
		require.NoError(t, b.DeleteClass(ctx, "Initiative"))
		assert.ErrorIs(t, b.DeleteClass(ctx, "Initiative"), backend.ErrNotFound)

		classes, err := readJSONL[ClassRecord](filepath.Join(dir, ClassesFile))
		require.NoError(t, err)
		assert.Len(t, classes, 3)

		rels, err := readJSONL[SchemaRelationshipRecord](filepath.Join(dir, SchemaRelationshipsFile))
		require.NoError(t, err)
		for _, r := range rels {
			assert.NotEqual(t, "Initiative", r.Target)
		}
	})
}

func TestChatUnsupported(t *testing.T) {
	b, _ := openFixture(t)

	_, err := b.OpenChatStream(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, backend.ErrUnsupported)

	_, err = b.GenerateTitle(context.Background(), 1)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestWatch_ReloadsOnExternalEdit(t *testing.T) {
	b, dir := openFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, 20*time.Millisecond, func() { changes.Add(1) })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(filepath.Join(dir, ClassesFile), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"name\":\"Country\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return changes.Load() > 0 }, 2*time.Second, 20*time.Millisecond)

	schema, err := b.FetchSchema(context.Background())
	require.NoError(t, err)
	assert.Len(t, schema.Nodes, 4)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBackendImplementsContracts(t *testing.T) {
	var _ backend.Backend = (*Backend)(nil)
}
