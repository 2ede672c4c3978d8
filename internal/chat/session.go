package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/graph"
	"github.com/matsen/ontoscope/internal/notify"
)

// ErrClosed is returned by a Session after Close.
var ErrClosed = errors.New("chat session closed")

// SessionOptions configures a Session.
type SessionOptions struct {
	Streamer backend.ChatStreamer
	Titles   backend.TitleGenerator
	Preview  *graph.Store
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Session is one conversation view. It owns at most one stream reader at a
// time: submitting a query cancels the reader in flight and waits for it to
// exit before the next stream is opened. The session lock is never held while
// a stream is being opened, so Cancel, Switch and Close can always interrupt
// a stalled open.
type Session struct {
	opts SessionOptions

	mu         sync.Mutex
	conv       *Conversation
	asm        *Assembler
	assemblers []*Assembler
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool

	life       context.Context
	lifeCancel context.CancelFunc

	obsMu     sync.Mutex
	observers []func(Event)
}

// NewSession creates a session on a fresh conversation.
func NewSession(opts SessionOptions) *Session {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{opts: opts}
	s.life, s.lifeCancel = context.WithCancel(context.Background())
	s.switchLocked(NewConversation(nil, "", nil))
	return s
}

// OnEvent registers fn to run after every applied event of any conversation
// the session shows. fn runs on the reader goroutine and must not call back
// into the Session.
func (s *Session) OnEvent(fn func(Event)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) dispatch(ev Event) {
	s.obsMu.Lock()
	observers := s.observers
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Conversation returns the conversation currently shown.
func (s *Session) Conversation() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Active reports whether a stream reader is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Submit appends query as a user message and starts streaming the reply.
// It returns once the stream is open; the reply is assembled in the
// background until it ends, ctx is cancelled, or Cancel is called. Use Wait
// to block until it is complete.
func (s *Session) Submit(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("%w: empty query", backend.ErrInvalidRequest)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopLocked()

	conv := s.conv
	asm := s.asm
	conv.Append(NewMessage(RoleUser, query))

	streamCtx, cancel := context.WithCancel(s.life)
	stop := context.AfterFunc(ctx, cancel)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	// From here on done must be closed on every path: stopLocked waits on it
	// while holding the lock.
	body, err := s.opts.Streamer.OpenChatStream(streamCtx, query, conv.IDPtr())
	if err == nil && streamCtx.Err() != nil {
		body.Close()
		err = streamCtx.Err()
	}
	if err != nil {
		stop()
		cancel()
		close(done)
		if streamCtx.Err() != nil && ctx.Err() == nil {
			// Superseded by Cancel, Switch, Close or a newer query.
			s.opts.Logger.Debug("chat stream open abandoned", zap.Error(err))
			return fmt.Errorf("opening chat stream: %w", context.Canceled)
		}
		s.opts.Logger.Warn("opening chat stream", zap.Error(err))
		notify.Report(s.opts.Notifier, "chat", err)
		return err
	}

	// Closing the body unblocks a read stuck in the transport.
	closeBody := context.AfterFunc(streamCtx, func() { body.Close() })
	go func() {
		defer close(done)
		defer stop()
		defer closeBody()
		defer body.Close()
		if err := asm.Run(streamCtx, body); err != nil && !errors.Is(err, context.Canceled) {
			s.opts.Logger.Warn("chat stream ended with error", zap.Error(err))
			notify.Report(s.opts.Notifier, "chat", err)
		}
	}()
	return nil
}

// Wait blocks until the current reply has been assembled or cancelled.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Cancel stops the reader in flight. When Cancel returns, no further event of
// that stream will be applied. The partial reply is kept.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// Switch cancels any reader in flight and shows another conversation. A nil
// id starts a fresh conversation.
func (s *Session) Switch(id *int64, title string, history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.switchLocked(NewConversation(id, title, history))
	if s.opts.Preview != nil {
		s.opts.Preview.Reset(nil, nil)
	}
}

func (s *Session) switchLocked(conv *Conversation) {
	asm := NewAssembler(conv, AssemblerOptions{
		Preview:  s.opts.Preview,
		Titles:   s.opts.Titles,
		Context:  s.life,
		Notifier: s.opts.Notifier,
		Logger:   s.opts.Logger,
	})
	asm.OnEvent(s.dispatch)
	s.conv = conv
	s.asm = asm
	s.assemblers = append(s.assemblers, asm)
}

// Close cancels the reader in flight and any pending title request, and waits
// for them to exit. The session cannot be used afterwards.
func (s *Session) Close() {
	// Cancelling first releases a stream open that is stuck in the transport.
	s.lifeCancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopLocked()
	assemblers := s.assemblers
	s.mu.Unlock()

	for _, a := range assemblers {
		a.WaitTitles()
	}
}

// WaitTitles blocks until every title request started so far has finished.
func (s *Session) WaitTitles() {
	s.mu.Lock()
	assemblers := s.assemblers
	s.mu.Unlock()
	for _, a := range assemblers {
		a.WaitTitles()
	}
}
