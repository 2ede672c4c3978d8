// Package backend defines the request/response contracts the explorer consumes
// from the graph backend, and an HTTP client implementing them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
)

// SchemaClass is a class definition in the schema graph.
type SchemaClass struct {
	Name           string   `json:"name"`
	Aliases        []string `json:"aliases,omitempty"`
	DataProperties []string `json:"dataProperties,omitempty"`
	Color          string   `json:"color,omitempty"`
}

// SchemaRelationship is a permitted relationship type between two classes.
type SchemaRelationship struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// Schema is the response of a schema fetch.
type Schema struct {
	Nodes         []SchemaClass        `json:"nodes"`
	Relationships []SchemaRelationship `json:"relationships"`
}

// RelationshipID is a backend relationship identifier. Backends send it either
// as a JSON string or a JSON number; both decode to the same text.
type RelationshipID string

// UnmarshalJSON accepts strings, numbers, and null.
func (id *RelationshipID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RelationshipID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = RelationshipID(n.String())
	return nil
}

// NeighborRelationship is one relationship returned by a neighbor fetch.
type NeighborRelationship struct {
	ID     RelationshipID `json:"id,omitempty"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   string         `json:"type"`
}

// Neighbor is one entity returned by a neighbor fetch.
type Neighbor struct {
	Name          string                 `json:"name"`
	Labels        []string               `json:"labels"`
	Properties    map[string]any         `json:"properties,omitempty"`
	Relationships []NeighborRelationship `json:"relationships"`
}

// Relationship identifies a schema relationship for create and delete. Only
// creation rejects self-loops, so one already in the schema can be deleted.
type Relationship struct {
	Source string `json:"source" validate:"required"`
	Type   string `json:"type" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// ClassSpec describes a schema class for create and update.
type ClassSpec struct {
	Name           string   `json:"name" validate:"required"`
	Label          string   `json:"label,omitempty"`
	DataProperties []string `json:"dataProperties" validate:"dive,required"`
	Color          string   `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// GraphPayload is the graph carried by a chat reply.
type GraphPayload struct {
	Nodes []PayloadNode          `json:"nodes"`
	Edges []NeighborRelationship `json:"edges"`
}

// PayloadNode is a node inside a chat graph payload.
type PayloadNode struct {
	ID         RelationshipID `json:"id"`
	Name       string         `json:"name,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Key returns the node's identity: its id, falling back to its name.
func (n PayloadNode) Key() string {
	if n.ID != "" {
		return string(n.ID)
	}
	return n.Name
}

// SchemaSource fetches the schema graph.
type SchemaSource interface {
	FetchSchema(ctx context.Context) (*Schema, error)
}

// NeighborFetcher fetches the neighborhood of an entity.
type NeighborFetcher interface {
	FetchNeighbors(ctx context.Context, name string, hops int) ([]Neighbor, error)
}

// RelationshipWriter creates and deletes schema relationships.
type RelationshipWriter interface {
	CreateRelationship(ctx context.Context, rel Relationship) error
	DeleteRelationship(ctx context.Context, rel Relationship) error
}

// ClassWriter creates, updates, and deletes schema classes.
type ClassWriter interface {
	CreateClass(ctx context.Context, spec ClassSpec) error
	UpdateClass(ctx context.Context, name string, spec ClassSpec) error
	DeleteClass(ctx context.Context, name string) error
}

// ChatStreamer opens a streamed chat reply. The caller must close the stream.
type ChatStreamer interface {
	OpenChatStream(ctx context.Context, query string, conversationID *int64) (io.ReadCloser, error)
}

// TitleGenerator asks the backend for a conversation title.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, conversationID int64) (string, error)
}

// Backend is every collaborator contract the explorer consumes.
type Backend interface {
	SchemaSource
	NeighborFetcher
	RelationshipWriter
	ClassWriter
	ChatStreamer
	TitleGenerator
}

func formatConversationID(id int64) string {
	return strconv.FormatInt(id, 10)
}
