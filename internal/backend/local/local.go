// Package local implements the backend contracts on top of a data directory of
// JSONL files, for use without a server.
//
// The JSONL files are the source of truth. An in-memory SQLite index is
// rebuilt from them on Open and on Reload, and answers every query. Writes
// update the index and then rewrite or append the affected JSONL file.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
)

// Backend is an offline backend rooted at a data directory.
type Backend struct {
	mu     sync.Mutex
	dir    string
	ix     *index
	logger *zap.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Open loads the data directory, creating it if needed.
func Open(dir string, opts ...Option) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	ix, err := openIndex()
	if err != nil {
		return nil, err
	}

	b := &Backend{dir: dir, ix: ix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.Reload(); err != nil {
		ix.Close()
		return nil, err
	}
	return b, nil
}

// Dir returns the data directory.
func (b *Backend) Dir() string {
	return b.dir
}

// Close releases the index.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ix.Close()
}

// Reload rebuilds the index from the JSONL files.
func (b *Backend) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reloadLocked()
}

func (b *Backend) reloadLocked() error {
	counts, err := b.ix.rebuild(b.dir)
	if err != nil {
		return fmt.Errorf("rebuilding index from %s: %w", b.dir, err)
	}
	b.logger.Debug("index rebuilt",
		zap.String("dir", b.dir),
		zap.Int("classes", counts.Classes),
		zap.Int("relationships", counts.Relationships),
		zap.Int("entities", counts.Entities),
		zap.Int("relations", counts.Relations))
	return nil
}

func (b *Backend) path(name string) string {
	return filepath.Join(b.dir, name)
}

// FetchSchema returns every class and schema relationship.
func (b *Backend) FetchSchema(ctx context.Context) (*backend.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	classes, err := b.ix.classes()
	if err != nil {
		return nil, err
	}
	rels, err := b.ix.schemaRelationships()
	if err != nil {
		return nil, err
	}

	schema := &backend.Schema{
		Nodes:         make([]backend.SchemaClass, 0, len(classes)),
		Relationships: make([]backend.SchemaRelationship, 0, len(rels)),
	}
	for _, c := range classes {
		schema.Nodes = append(schema.Nodes, backend.SchemaClass{
			Name:           c.Name,
			Aliases:        c.Aliases,
			DataProperties: c.DataProperties,
			Color:          c.Color,
		})
	}
	for _, r := range rels {
		schema.Relationships = append(schema.Relationships, backend.SchemaRelationship(r))
	}
	return schema, nil
}

// FetchNeighbors walks relations breadth-first from name up to hops steps and
// returns every entity reached, each with the relations that touch it.
func (b *Backend) FetchNeighbors(ctx context.Context, name string, hops int) ([]backend.Neighbor, error) {
	if hops < 1 {
		return nil, fmt.Errorf("%w: hops must be at least 1, got %d", backend.ErrInvalidRequest, hops)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok, err := b.ix.entity(name); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("entity %s: %w", name, backend.ErrNotFound)
	}

	order := []string{name}
	visited := map[string]bool{name: true}
	frontier := []string{name}

	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		rels, err := b.ix.relationsTouching(frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, r := range rels {
			for _, n := range []string{r.Source, r.Target} {
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
				}
			}
		}
		order = append(order, next...)
		frontier = next
	}

	rels, err := b.ix.relationsTouching(order)
	if err != nil {
		return nil, err
	}
	byEntity := make(map[string][]backend.NeighborRelationship)
	for _, r := range rels {
		nr := backend.NeighborRelationship{
			ID:     backend.RelationshipID(r.ID),
			Source: r.Source,
			Target: r.Target,
			Type:   r.Type,
		}
		byEntity[r.Source] = append(byEntity[r.Source], nr)
		if r.Target != r.Source {
			byEntity[r.Target] = append(byEntity[r.Target], nr)
		}
	}

	out := make([]backend.Neighbor, 0, len(order))
	for _, n := range order {
		e, ok, err := b.ix.entity(n)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Relation to an entity missing from entities.jsonl.
			b.logger.Warn("relation references unknown entity", zap.String("entity", n))
			continue
		}
		out = append(out, backend.Neighbor{
			Name:          e.Name,
			Labels:        e.Labels,
			Properties:    e.Properties,
			Relationships: byEntity[n],
		})
	}
	return out, nil
}

// OpenChatStream is not available offline.
func (b *Backend) OpenChatStream(ctx context.Context, query string, conversationID *int64) (io.ReadCloser, error) {
	return nil, fmt.Errorf("chat: %w", backend.ErrUnsupported)
}

// GenerateTitle is not available offline.
func (b *Backend) GenerateTitle(ctx context.Context, conversationID int64) (string, error) {
	return "", fmt.Errorf("title generation: %w", backend.ErrUnsupported)
}
