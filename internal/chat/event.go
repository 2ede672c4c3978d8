package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/graph"
)

// MaxLineCapacity bounds a single stream line (graph payloads can be large).
const MaxLineCapacity = 4 * 1024 * 1024

// EventType is the kind of a stream record.
type EventType string

const (
	EventThinking       EventType = "thinking"
	EventContent        EventType = "content"
	EventGraphData      EventType = "graph_data"
	EventConversationID EventType = "conversation_id"
	EventDone           EventType = "done"
)

// Event is one decoded stream record.
type Event struct {
	Type           EventType   `json:"type"`
	Content        string      `json:"content,omitempty"`
	GraphData      *graph.Data `json:"graph_data,omitempty"`
	ConversationID int64       `json:"conversation_id,omitempty"`
}

// ErrMalformed marks a stream line that could not be decoded.
var ErrMalformed = errors.New("malformed stream line")

var (
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
	doneMarker  = []byte("[DONE]")
)

// wireRecord is the JSON shape of a stream line.
type wireRecord struct {
	Type           EventType             `json:"type"`
	Content        *string               `json:"content"`
	GraphData      *backend.GraphPayload `json:"graph_data"`
	ConversationID json.RawMessage       `json:"conversation_id"`
}

// ParseLine decodes one stream line. It returns ok=false for lines that carry
// no event: blanks, SSE comments, and SSE event names.
func ParseLine(line []byte) (ev Event, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' || bytes.HasPrefix(line, eventPrefix) {
		return Event{}, false, nil
	}
	if bytes.HasPrefix(line, dataPrefix) {
		line = bytes.TrimSpace(line[len(dataPrefix):])
		if len(line) == 0 {
			return Event{}, false, nil
		}
	}
	if bytes.Equal(line, doneMarker) {
		return Event{Type: EventDone}, true, nil
	}

	var rec wireRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch rec.Type {
	case EventThinking, EventContent:
		if rec.Content == nil {
			return Event{}, false, fmt.Errorf("%w: %s record without content", ErrMalformed, rec.Type)
		}
		return Event{Type: rec.Type, Content: *rec.Content}, true, nil

	case EventGraphData:
		if rec.GraphData == nil {
			return Event{}, false, fmt.Errorf("%w: graph_data record without payload", ErrMalformed)
		}
		data := PayloadGraph(*rec.GraphData)
		return Event{Type: EventGraphData, GraphData: &data}, true, nil

	case EventConversationID:
		id, err := parseConversationID(rec.ConversationID)
		if err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Event{Type: EventConversationID, ConversationID: id}, true, nil

	case EventDone:
		return Event{Type: EventDone}, true, nil

	default:
		return Event{}, false, fmt.Errorf("%w: unknown record type %q", ErrMalformed, rec.Type)
	}
}

// parseConversationID accepts a JSON number or a numeric string.
func parseConversationID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("conversation_id record without id")
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
		s = n.String()
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("conversation id %q: %w", s, err)
	}
	return id, nil
}

// PayloadGraph converts a reply's graph payload into store elements.
func PayloadGraph(p backend.GraphPayload) graph.Data {
	data := graph.Data{
		Nodes: make([]graph.Node, 0, len(p.Nodes)),
		Edges: make([]graph.Edge, 0, len(p.Edges)),
	}
	for _, n := range p.Nodes {
		var kind string
		if len(n.Labels) > 0 {
			kind = n.Labels[0]
		}
		label := n.Name
		if label == "" {
			label = n.Key()
		}
		data.Nodes = append(data.Nodes, graph.Node{
			ID:         n.Key(),
			Label:      label,
			Kind:       kind,
			Properties: n.Properties,
		})
	}
	for _, e := range p.Edges {
		data.Edges = append(data.Edges, graph.NewEdge(string(e.ID), e.Source, e.Target, e.Type))
	}
	return data
}

// Decoder reads events from a stream, skipping malformed lines. A line longer
// than MaxLineCapacity is discarded as malformed and reading continues with
// the next line.
type Decoder struct {
	r       *bufio.Reader
	buf     []byte
	logger  *zap.Logger
	line    int
	skipped int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), logger: logger}
}

// Next returns the next event. It returns io.EOF when the stream ends, either
// at an end-of-stream marker or when the reader is exhausted.
func (d *Decoder) Next() (Event, error) {
	for {
		line, tooLong, err := d.readLine()
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, fmt.Errorf("reading stream: %w", err)
		}
		d.line++
		if tooLong {
			d.skipped++
			d.logger.Warn("skipping oversized stream line",
				zap.Int("line", d.line), zap.Int("limit", MaxLineCapacity))
			continue
		}

		ev, ok, err := ParseLine(line)
		if err != nil {
			d.skipped++
			d.logger.Warn("skipping stream line", zap.Int("line", d.line), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if ev.Type == EventDone {
			return Event{}, io.EOF
		}
		return ev, nil
	}
}

// readLine returns the next line without its terminator. The returned slice
// is only valid until the next call. An over-long line is consumed up to its
// newline and reported through tooLong instead of being buffered.
func (d *Decoder) readLine() (line []byte, tooLong bool, err error) {
	d.buf = d.buf[:0]
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(d.buf)+len(bytes.TrimRight(chunk, "\r\n")) > MaxLineCapacity {
				tooLong = true
				d.buf = d.buf[:0]
			} else {
				d.buf = append(d.buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(d.buf) == 0 && !tooLong {
				return nil, false, io.EOF
			}
		case err != nil:
			return nil, false, err
		}
		return bytes.TrimRight(d.buf, "\r\n"), tooLong, nil
	}
}

// Skipped returns the number of malformed lines skipped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}
