package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/backend/local"
	"github.com/matsen/ontoscope/internal/explorer"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/workflow"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// syncBuffer is safe for the chat reader and the shell loop to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		local.ClassesFile: `{"name":"Person","dataProperties":["age"]}
{"name":"Company"}
`,
		local.SchemaRelationshipsFile: `{"source":"Person","type":"WORKS_AT","target":"Company"}
`,
		local.EntitiesFile: `{"name":"alice","labels":["Person"]}
{"name":"bob","labels":["Person"]}
{"name":"acme","labels":["Company"]}
`,
		local.RelationsFile: `{"id":"1","source":"alice","target":"acme","type":"WORKS_AT"}
{"id":"2","source":"bob","target":"acme","type":"WORKS_AT"}
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func newTestShell(t *testing.T) (*shell, *explorer.Explorer, *syncBuffer, string) {
	t.Helper()
	dir := seedDataDir(t)
	b, err := local.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ex := explorer.New(b, explorer.Options{})
	t.Cleanup(ex.Close)
	require.NoError(t, ex.LoadSchema(context.Background()))

	out := &syncBuffer{}
	return newShell(ex, out), ex, out, dir
}

func runScript(t *testing.T, sh *shell, lines ...string) {
	t.Helper()
	require.NoError(t, sh.run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n")))
}

func TestShell_RelationshipWorkflow(t *testing.T) {
	sh, ex, out, dir := newTestShell(t)

	runScript(t, sh,
		"relate",
		"click Company",
		"click Company",
		"click Person",
		"type FUNDS",
		"confirm",
	)

	assert.Contains(t, out.String(), "source and target must be different classes")
	assert.Contains(t, out.String(), "created Company -[FUNDS]-> Person")
	assert.Equal(t, workflow.Idle, ex.Workflow.State())
	assert.True(t, ex.Schema.HasEdge(graph.EdgeKey{Source: "Company", Target: "Person", Type: "FUNDS"}))

	data, err := os.ReadFile(filepath.Join(dir, local.SchemaRelationshipsFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FUNDS"`)
}

func TestShell_EditModeGatesClassCommands(t *testing.T) {
	sh, ex, out, _ := newTestShell(t)

	runScript(t, sh, "class create Project name #00ff00")
	assert.Contains(t, out.String(), "needs edit mode")
	assert.False(t, ex.Schema.Contains("Project"))

	runScript(t, sh,
		"relate",
		"click Person",
		"edit",
		"class create Project name,budget #00ff00",
	)
	assert.Equal(t, workflow.Idle, ex.Workflow.State(), "entering edit mode cancels the workflow")
	n, ok := ex.Schema.Node("Project")
	require.True(t, ok)
	assert.Equal(t, "#00ff00", n.Color)
	assert.Equal(t, []string{"name", "budget"}, n.Properties["dataProperties"])
}

func TestShell_Unrelate(t *testing.T) {
	sh, ex, out, _ := newTestShell(t)

	runScript(t, sh, "edit", "unrelate")
	assert.Contains(t, out.String(), "select a relationship first")

	runScript(t, sh, "edge Person WORKS_AT Company", "unrelate")
	assert.False(t, ex.Schema.HasEdge(graph.EdgeKey{Source: "Person", Target: "Company", Type: "WORKS_AT"}))
	assert.Contains(t, out.String(), "deleted")
}

func TestShell_ExpandAndFocus(t *testing.T) {
	sh, ex, out, _ := newTestShell(t)

	runScript(t, sh, "expand alice", "expand bob", "wait")
	nodes, edges := ex.Instances.Len()
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, edges)
	assert.Contains(t, out.String(), "3 entities, 2 relationships")

	runScript(t, sh, "select alice", "focus bob 1", "selected")
	assert.False(t, ex.Instances.Contains("alice"))
	assert.Contains(t, out.String(), "instances: none")
}

func TestShell_AskUnsupportedOffline(t *testing.T) {
	sh, ex, out, _ := newTestShell(t)

	runScript(t, sh, "ask hello")
	assert.Contains(t, out.String(), "error:")
	notes := ex.Notifications.Recent()
	require.NotEmpty(t, notes)
	assert.Equal(t, "unsupported", notes[len(notes)-1].Kind.String())
}

func TestShell_Viz(t *testing.T) {
	sh, _, out, _ := newTestShell(t)
	path := filepath.Join(t.TempDir(), "schema.html")

	runScript(t, sh, "viz schema "+path, "viz nowhere "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "WORKS_AT")
	assert.Contains(t, out.String(), "usage: viz")
}

func TestShell_UnknownCommandAndQuit(t *testing.T) {
	sh, _, out, _ := newTestShell(t)

	runScript(t, sh, "frobnicate", "quit", "schema")
	assert.Contains(t, out.String(), `unknown command "frobnicate"`)
	assert.NotContains(t, out.String(), "Classes", "nothing runs after quit")
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{fmt.Errorf("x: %w", backend.ErrUnsupported), ExitUnsupported},
		{fmt.Errorf("x: %w", backend.ErrNotFound), ExitNotFound},
		{fmt.Errorf("x: %w", backend.ErrTransport), ExitBackend},
		{fmt.Errorf("x: %w", backend.ErrInvalidRequest), ExitDataError},
		{workflow.ErrSelfLoop, ExitDataError},
		{fmt.Errorf("boom"), ExitError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCodeFor(tt.err), "%v", tt.err)
	}
}
