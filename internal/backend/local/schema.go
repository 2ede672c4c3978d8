package local

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
)

// CreateRelationship adds a schema relationship. Creating one that already
// exists is a no-op.
func (b *Backend) CreateRelationship(ctx context.Context, rel backend.Relationship) error {
	if err := backend.ValidateNew(rel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range []string{rel.Source, rel.Target} {
		ok, err := b.ix.hasClass(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("class %s: %w", name, backend.ErrNotFound)
		}
	}

	res, err := b.ix.db.Exec(`INSERT OR IGNORE INTO schema_relationships (source, type, target) VALUES (?, ?, ?)`,
		rel.Source, rel.Type, rel.Target)
	if err != nil {
		return fmt.Errorf("inserting schema relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	record := SchemaRelationshipRecord{Source: rel.Source, Type: rel.Type, Target: rel.Target}
	if err := appendJSONL(b.path(SchemaRelationshipsFile), record); err != nil {
		return b.restore(err)
	}
	b.logger.Info("schema relationship created",
		zap.String("source", rel.Source),
		zap.String("type", rel.Type),
		zap.String("target", rel.Target))
	return nil
}

// DeleteRelationship removes a schema relationship.
func (b *Backend) DeleteRelationship(ctx context.Context, rel backend.Relationship) error {
	if err := backend.Validate(rel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.ix.db.Exec(`DELETE FROM schema_relationships WHERE source = ? AND type = ? AND target = ?`,
		rel.Source, rel.Type, rel.Target)
	if err != nil {
		return fmt.Errorf("deleting schema relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relationship %s-[%s]->%s: %w", rel.Source, rel.Type, rel.Target, backend.ErrNotFound)
	}

	if err := b.persistRelationshipsLocked(); err != nil {
		return b.restore(err)
	}
	return nil
}

// CreateClass adds a schema class.
func (b *Backend) CreateClass(ctx context.Context, spec backend.ClassSpec) error {
	if err := backend.Validate(spec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.ix.hasClass(spec.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: class %s already exists", backend.ErrInvalidRequest, spec.Name)
	}

	record := ClassRecord{
		Name:           spec.Name,
		Label:          spec.Label,
		DataProperties: spec.DataProperties,
		Color:          spec.Color,
	}
	if err := insertClass(b.ix.db, record); err != nil {
		return err
	}
	if err := appendJSONL(b.path(ClassesFile), record); err != nil {
		return b.restore(err)
	}
	b.logger.Info("class created", zap.String("class", spec.Name))
	return nil
}

// UpdateClass replaces the definition of class name. A different spec.Name
// renames the class, and every schema relationship follows it.
func (b *Backend) UpdateClass(ctx context.Context, name string, spec backend.ClassSpec) error {
	if err := backend.Validate(spec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.ix.hasClass(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("class %s: %w", name, backend.ErrNotFound)
	}
	if spec.Name != name {
		taken, err := b.ix.hasClass(spec.Name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: class %s already exists", backend.ErrInvalidRequest, spec.Name)
		}
	}

	tx, err := b.ix.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning class update: %w", err)
	}
	defer tx.Rollback()

	props, err := marshalStrings(spec.DataProperties)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE classes SET name = ?, label = ?, data_properties_json = ?, color = ? WHERE name = ?`,
		spec.Name, nullString(spec.Label), props, nullString(spec.Color), name); err != nil {
		return fmt.Errorf("updating class %s: %w", name, err)
	}
	if spec.Name != name {
		if _, err := tx.Exec(`UPDATE schema_relationships SET source = ? WHERE source = ?`, spec.Name, name); err != nil {
			return fmt.Errorf("renaming relationship sources: %w", err)
		}
		if _, err := tx.Exec(`UPDATE schema_relationships SET target = ? WHERE target = ?`, spec.Name, name); err != nil {
			return fmt.Errorf("renaming relationship targets: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing class update: %w", err)
	}

	if err := b.persistClassesLocked(); err != nil {
		return b.restore(err)
	}
	if spec.Name != name {
		if err := b.persistRelationshipsLocked(); err != nil {
			return b.restore(err)
		}
	}
	b.logger.Info("class updated", zap.String("class", name), zap.String("name", spec.Name))
	return nil
}

// DeleteClass removes a class and every schema relationship that references it.
func (b *Backend) DeleteClass(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.ix.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning class delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM classes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting class %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("class %s: %w", name, backend.ErrNotFound)
	}
	if _, err := tx.Exec(`DELETE FROM schema_relationships WHERE source = ? OR target = ?`, name, name); err != nil {
		return fmt.Errorf("deleting relationships of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing class delete: %w", err)
	}

	if err := b.persistClassesLocked(); err != nil {
		return b.restore(err)
	}
	if err := b.persistRelationshipsLocked(); err != nil {
		return b.restore(err)
	}
	b.logger.Info("class deleted", zap.String("class", name))
	return nil
}

func (b *Backend) persistClassesLocked() error {
	classes, err := b.ix.classes()
	if err != nil {
		return err
	}
	return writeJSONL(b.path(ClassesFile), classes)
}

func (b *Backend) persistRelationshipsLocked() error {
	rels, err := b.ix.schemaRelationships()
	if err != nil {
		return err
	}
	return writeJSONL(b.path(SchemaRelationshipsFile), rels)
}

// restore rebuilds the index from disk after a failed write so the two never
// disagree, and returns the original error.
func (b *Backend) restore(cause error) error {
	if err := b.reloadLocked(); err != nil {
		b.logger.Error("restoring index after failed write", zap.Error(err))
	}
	return fmt.Errorf("persisting schema: %w", cause)
}
