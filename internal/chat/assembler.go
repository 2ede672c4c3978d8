package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/notify"
)

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	// Preview receives each reply's graph payload through Reset. Optional.
	Preview *graph.Store
	// Titles generates the conversation title once an id is bound. Optional.
	Titles backend.TitleGenerator
	// Context bounds title generation. Defaults to context.Background.
	Context  context.Context
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Assembler applies stream events to the active assistant message of one
// conversation, in arrival order.
type Assembler struct {
	conv     *Conversation
	preview  *graph.Store
	titles   backend.TitleGenerator
	ctx      context.Context
	notifier notify.Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	observers []func(Event)
	titleWG   sync.WaitGroup
}

// NewAssembler creates an assembler for conv.
func NewAssembler(conv *Conversation, opts AssemblerOptions) *Assembler {
	a := &Assembler{
		conv:     conv,
		preview:  opts.Preview,
		titles:   opts.Titles,
		ctx:      opts.Context,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if a.ctx == nil {
		a.ctx = context.Background()
	}
	if a.notifier == nil {
		a.notifier = notify.Nop{}
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Conversation returns the conversation being assembled.
func (a *Assembler) Conversation() *Conversation {
	return a.conv
}

// OnEvent registers fn to run after each applied event.
func (a *Assembler) OnEvent(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// Run reads events from r until the stream ends, ctx is cancelled, or the
// read fails. The reply is finalized on a clean end. On cancellation the
// partial reply is kept and ctx's error is returned.
func (a *Assembler) Run(ctx context.Context, r io.Reader) error {
	dec := NewDecoder(r, a.logger)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			a.finish(false)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				a.finish(true)
				return ctx.Err()
			}
			// A dropped connection ends the reply like an end-of-stream marker.
			a.finish(false)
			return err
		}
		if !a.Apply(ctx, ev) {
			a.finish(true)
			return ctx.Err()
		}
	}
}

// Apply applies one event. It returns false, without applying anything, if
// ctx is already cancelled.
func (a *Assembler) Apply(ctx context.Context, ev Event) bool {
	var (
		requestTitle bool
		boundID      int64
	)

	a.conv.mu.Lock()
	if ctx.Err() != nil {
		a.conv.mu.Unlock()
		return false
	}
	switch ev.Type {
	case EventThinking:
		a.conv.activeLocked().Thinking += ev.Content
	case EventContent:
		a.conv.activeLocked().Content += ev.Content
	case EventGraphData:
		a.conv.activeLocked().GraphData = ev.GraphData
	case EventConversationID:
		var bound bool
		bound, requestTitle = a.conv.bindLocked(ev.ConversationID)
		if !bound {
			a.logger.Debug("conversation id already bound", zap.Int64("conversation_id", ev.ConversationID))
		}
		boundID = ev.ConversationID
	}
	a.conv.mu.Unlock()

	if ev.Type == EventGraphData && a.preview != nil && ev.GraphData != nil {
		a.preview.Reset(ev.GraphData.Nodes, ev.GraphData.Edges)
	}
	if requestTitle {
		a.requestTitle(boundID)
	}

	a.mu.Lock()
	observers := a.observers
	a.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
	return true
}

func (a *Assembler) finish(interrupted bool) {
	a.conv.mu.Lock()
	defer a.conv.mu.Unlock()
	m := a.conv.streamingLocked()
	if m == nil {
		return
	}
	m.Streaming = false
	m.Interrupted = interrupted
}

func (a *Assembler) requestTitle(id int64) {
	if a.titles == nil {
		return
	}
	a.titleWG.Add(1)
	go func() {
		defer a.titleWG.Done()
		title, err := a.titles.GenerateTitle(a.ctx, id)
		if err != nil {
			a.logger.Warn("title generation failed", zap.Int64("conversation_id", id), zap.Error(err))
			notify.Report(a.notifier, "generate title", fmt.Errorf("conversation %d: %w", id, err))
			return
		}
		a.conv.SetTitle(title)
		a.logger.Debug("conversation titled", zap.Int64("conversation_id", id), zap.String("title", title))
	}()
}

// WaitTitles blocks until every title request has finished.
func (a *Assembler) WaitTitles() {
	a.titleWG.Wait()
}
