package local

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// index is the ephemeral SQLite database answering queries. It is rebuilt from
// the JSONL files and never written to disk.
type index struct {
	db *sql.DB
}

func openIndex() (*index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) Close() error {
	return ix.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS classes (
			name TEXT PRIMARY KEY,
			label TEXT,
			aliases_json TEXT NOT NULL,
			data_properties_json TEXT NOT NULL,
			color TEXT
		);

		CREATE TABLE IF NOT EXISTS schema_relationships (
			source TEXT NOT NULL,
			type TEXT NOT NULL,
			target TEXT NOT NULL,
			PRIMARY KEY (source, type, target)
		);

		CREATE TABLE IF NOT EXISTS entities (
			name TEXT PRIMARY KEY,
			labels_json TEXT NOT NULL,
			properties_json TEXT
		);

		CREATE TABLE IF NOT EXISTS relations (
			id TEXT,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			PRIMARY KEY (source, type, target)
		);

		CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source);
		CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target);
	`
	_, err := db.Exec(schema)
	return err
}

// rebuildCounts reports how many records a rebuild loaded.
type rebuildCounts struct {
	Classes       int `json:"classes"`
	Relationships int `json:"relationships"`
	Entities      int `json:"entities"`
	Relations     int `json:"relations"`
}

// rebuild clears the index and reloads it from the JSONL files in dir.
func (ix *index) rebuild(dir string) (rebuildCounts, error) {
	var counts rebuildCounts

	classes, err := readJSONL[ClassRecord](filepath.Join(dir, ClassesFile))
	if err != nil {
		return counts, err
	}
	rels, err := readJSONL[SchemaRelationshipRecord](filepath.Join(dir, SchemaRelationshipsFile))
	if err != nil {
		return counts, err
	}
	entities, err := readJSONL[EntityRecord](filepath.Join(dir, EntitiesFile))
	if err != nil {
		return counts, err
	}
	relations, err := readJSONL[RelationRecord](filepath.Join(dir, RelationsFile))
	if err != nil {
		return counts, err
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return counts, fmt.Errorf("beginning rebuild: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"classes", "schema_relationships", "entities", "relations"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return counts, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, c := range classes {
		if err := insertClass(tx, c); err != nil {
			return counts, err
		}
	}
	for _, r := range rels {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO schema_relationships (source, type, target) VALUES (?, ?, ?)`,
			r.Source, r.Type, r.Target); err != nil {
			return counts, fmt.Errorf("inserting schema relationship: %w", err)
		}
	}
	for _, e := range entities {
		labels, err := json.Marshal(nonNil(e.Labels))
		if err != nil {
			return counts, fmt.Errorf("encoding labels of %s: %w", e.Name, err)
		}
		props, err := json.Marshal(e.Properties)
		if err != nil {
			return counts, fmt.Errorf("encoding properties of %s: %w", e.Name, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO entities (name, labels_json, properties_json) VALUES (?, ?, ?)`,
			e.Name, string(labels), string(props)); err != nil {
			return counts, fmt.Errorf("inserting entity %s: %w", e.Name, err)
		}
	}
	for _, r := range relations {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO relations (id, source, target, type) VALUES (?, ?, ?, ?)`,
			nullString(r.ID), r.Source, r.Target, r.Type); err != nil {
			return counts, fmt.Errorf("inserting relation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("committing rebuild: %w", err)
	}

	counts = rebuildCounts{
		Classes:       len(classes),
		Relationships: len(rels),
		Entities:      len(entities),
		Relations:     len(relations),
	}
	return counts, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertClass(x execer, c ClassRecord) error {
	aliases, err := json.Marshal(nonNil(c.Aliases))
	if err != nil {
		return fmt.Errorf("encoding aliases of %s: %w", c.Name, err)
	}
	props, err := json.Marshal(nonNil(c.DataProperties))
	if err != nil {
		return fmt.Errorf("encoding data properties of %s: %w", c.Name, err)
	}
	_, err = x.Exec(`INSERT OR REPLACE INTO classes (name, label, aliases_json, data_properties_json, color)
		VALUES (?, ?, ?, ?, ?)`,
		c.Name, nullString(c.Label), string(aliases), string(props), nullString(c.Color))
	if err != nil {
		return fmt.Errorf("inserting class %s: %w", c.Name, err)
	}
	return nil
}

func (ix *index) classes() ([]ClassRecord, error) {
	rows, err := ix.db.Query(`
		SELECT name, label, aliases_json, data_properties_json, color
		FROM classes
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("querying classes: %w", err)
	}
	defer rows.Close()

	var out []ClassRecord
	for rows.Next() {
		var c ClassRecord
		var label, color sql.NullString
		var aliases, props string
		if err := rows.Scan(&c.Name, &label, &aliases, &props, &color); err != nil {
			return nil, fmt.Errorf("scanning class: %w", err)
		}
		c.Label = label.String
		c.Color = color.String
		if err := json.Unmarshal([]byte(aliases), &c.Aliases); err != nil {
			return nil, fmt.Errorf("decoding aliases of %s: %w", c.Name, err)
		}
		if err := json.Unmarshal([]byte(props), &c.DataProperties); err != nil {
			return nil, fmt.Errorf("decoding data properties of %s: %w", c.Name, err)
		}
		if len(c.Aliases) == 0 {
			c.Aliases = nil
		}
		if len(c.DataProperties) == 0 {
			c.DataProperties = nil
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (ix *index) hasClass(name string) (bool, error) {
	var n int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM classes WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("checking class %s: %w", name, err)
	}
	return n > 0, nil
}

func (ix *index) schemaRelationships() ([]SchemaRelationshipRecord, error) {
	rows, err := ix.db.Query(`SELECT source, type, target FROM schema_relationships ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying schema relationships: %w", err)
	}
	defer rows.Close()

	var out []SchemaRelationshipRecord
	for rows.Next() {
		var r SchemaRelationshipRecord
		if err := rows.Scan(&r.Source, &r.Type, &r.Target); err != nil {
			return nil, fmt.Errorf("scanning schema relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ix *index) entity(name string) (EntityRecord, bool, error) {
	var e EntityRecord
	var labels string
	var props sql.NullString
	err := ix.db.QueryRow(`SELECT name, labels_json, properties_json FROM entities WHERE name = ?`, name).
		Scan(&e.Name, &labels, &props)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("querying entity %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
		return e, false, fmt.Errorf("decoding labels of %s: %w", name, err)
	}
	if len(e.Labels) == 0 {
		e.Labels = nil
	}
	if props.Valid && props.String != "" && props.String != "null" {
		if err := json.Unmarshal([]byte(props.String), &e.Properties); err != nil {
			return e, false, fmt.Errorf("decoding properties of %s: %w", name, err)
		}
	}
	return e, true, nil
}

// relationsTouching returns every relation whose source or target is in names.
func (ix *index) relationsTouching(names []string) ([]RelationRecord, error) {
	if len(names) == 0 {
		return nil, nil
	}
	in := placeholders(len(names))
	args := make([]any, 0, 2*len(names))
	for _, n := range names {
		args = append(args, n)
	}
	for _, n := range names {
		args = append(args, n)
	}

	rows, err := ix.db.Query(`
		SELECT id, source, target, type
		FROM relations
		WHERE source IN (`+in+`) OR target IN (`+in+`)
		ORDER BY rowid
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	var out []RelationRecord
	for rows.Next() {
		var r RelationRecord
		var id sql.NullString
		if err := rows.Scan(&id, &r.Source, &r.Target, &r.Type); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		r.ID = id.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func marshalStrings(s []string) (string, error) {
	data, err := json.Marshal(nonNil(s))
	if err != nil {
		return "", fmt.Errorf("encoding string list: %w", err)
	}
	return string(data), nil
}
