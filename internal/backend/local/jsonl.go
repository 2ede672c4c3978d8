package local

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (1MB per line).
const MaxJSONLLineCapacity = 1024 * 1024

// File names inside a data directory.
const (
	ClassesFile             = "classes.jsonl"
	SchemaRelationshipsFile = "schema_relationships.jsonl"
	EntitiesFile            = "entities.jsonl"
	RelationsFile           = "relations.jsonl"
)

// ClassRecord is one line of classes.jsonl.
type ClassRecord struct {
	Name           string   `json:"name"`
	Label          string   `json:"label,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	DataProperties []string `json:"dataProperties,omitempty"`
	Color          string   `json:"color,omitempty"`
}

// SchemaRelationshipRecord is one line of schema_relationships.jsonl.
type SchemaRelationshipRecord struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// EntityRecord is one line of entities.jsonl.
type EntityRecord struct {
	Name       string         `json:"name"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties,omitempty"`
}

// RelationRecord is one line of relations.jsonl.
type RelationRecord struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// readJSONL reads every record from a JSONL file. A missing file is empty.
func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	buf := make([]byte, MaxJSONLLineCapacity)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", filepath.Base(path), lineNum, err)
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	return records, nil
}

// writeJSONL replaces the content of a JSONL file. The file is written next to
// its destination and renamed so readers never observe a partial file.
func writeJSONL[T any](path string, records []T) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// appendJSONL adds a record to the end of a JSONL file.
func appendJSONL[T any](path string, rec T) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s for append: %w", filepath.Base(path), err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
