// Package workflow implements the guided, multi-step creation of a
// relationship type between two schema classes.
//
// The workflow is a state machine: Idle → AwaitingSource → AwaitingTarget →
// AwaitingType → Idle. All transitions go through next, which is the only
// place that decides whether an event is legal in a state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/notify"
)

// State is a workflow step.
type State int

const (
	Idle State = iota
	AwaitingSource
	AwaitingTarget
	AwaitingType
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingSource:
		return "awaiting_source"
	case AwaitingTarget:
		return "awaiting_target"
	case AwaitingType:
		return "awaiting_type"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Prompt returns the instruction shown to the user in this state.
func (s State) Prompt() string {
	switch s {
	case AwaitingSource:
		return "Select the source class"
	case AwaitingTarget:
		return "Select the target class"
	case AwaitingType:
		return "Enter the relationship type"
	default:
		return ""
	}
}

// Errors returned for rejected events. State is unchanged after each of them.
var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrSelfLoop          = errors.New("source and target must be different classes")
	ErrEmptyType         = errors.New("relationship type must not be empty")
	ErrCommitInProgress  = errors.New("relationship is being saved")
)

// Draft is the relationship being authored. It only exists outside Idle.
type Draft struct {
	Step             State  `json:"step"`
	SourceClassID    string `json:"source_class_id,omitempty"`
	TargetClassID    string `json:"target_class_id,omitempty"`
	RelationshipType string `json:"relationship_type,omitempty"`
}

// Relationship returns the draft as a backend request.
func (d Draft) Relationship() backend.Relationship {
	return backend.Relationship{
		Source: d.SourceClassID,
		Type:   strings.TrimSpace(d.RelationshipType),
		Target: d.TargetClassID,
	}
}

type eventKind int

const (
	evStart eventKind = iota
	evClickNode
	evSetType
	evConfirm
	evCancel
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evClickNode:
		return "click_node"
	case evSetType:
		return "set_type"
	case evConfirm:
		return "confirm"
	default:
		return "cancel"
	}
}

type event struct {
	kind eventKind
	arg  string
}

// next is the transition function. It returns the new state and draft, or an
// error and the inputs unchanged. Confirm only validates: the transition to
// Idle happens once the commit has succeeded.
func next(state State, draft Draft, ev event) (State, Draft, error) {
	reject := func(err error) (State, Draft, error) {
		return state, draft, err
	}

	switch {
	case ev.kind == evCancel:
		if state == Idle {
			return reject(fmt.Errorf("%w: nothing to cancel", ErrInvalidTransition))
		}
		return Idle, Draft{}, nil

	case state == Idle && ev.kind == evStart:
		return AwaitingSource, Draft{Step: AwaitingSource}, nil

	case state == AwaitingSource && ev.kind == evClickNode:
		if ev.arg == "" {
			return reject(fmt.Errorf("%w: empty class id", ErrInvalidTransition))
		}
		draft.SourceClassID = ev.arg
		draft.Step = AwaitingTarget
		return AwaitingTarget, draft, nil

	case state == AwaitingTarget && ev.kind == evClickNode:
		if ev.arg == "" {
			return reject(fmt.Errorf("%w: empty class id", ErrInvalidTransition))
		}
		if ev.arg == draft.SourceClassID {
			return reject(ErrSelfLoop)
		}
		draft.TargetClassID = ev.arg
		draft.Step = AwaitingType
		return AwaitingType, draft, nil

	case state == AwaitingType && ev.kind == evSetType:
		draft.RelationshipType = ev.arg
		return AwaitingType, draft, nil

	case state == AwaitingType && ev.kind == evConfirm:
		if strings.TrimSpace(draft.RelationshipType) == "" {
			return reject(ErrEmptyType)
		}
		return Idle, Draft{}, nil
	}

	return reject(fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.kind, state))
}

// SelectionClearer clears the current selection when a workflow starts.
type SelectionClearer interface {
	ClickBackground()
}

// Workflow drives relationship creation for one schema view.
type Workflow struct {
	mu         sync.Mutex
	state      State
	draft      Draft
	generation uint64
	committing bool

	writer    backend.RelationshipWriter
	selection SelectionClearer
	reload    func(ctx context.Context) error
	notifier  notify.Notifier
	logger    *zap.Logger
	observers []func(State, Draft)
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithSelection sets the selection cleared by Start.
func WithSelection(s SelectionClearer) Option {
	return func(w *Workflow) { w.selection = s }
}

// WithReload sets the function called after a successful commit, typically a
// schema graph reload.
func WithReload(fn func(ctx context.Context) error) Option {
	return func(w *Workflow) { w.reload = fn }
}

// WithNotifier sets where commit and reload failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(w *Workflow) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates an idle workflow committing through writer.
func New(writer backend.RelationshipWriter, opts ...Option) *Workflow {
	w := &Workflow{
		writer:   writer,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnChange registers fn to run after every accepted transition.
func (w *Workflow) OnChange(fn func(State, Draft)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, fn)
}

// State returns the current step.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Draft returns the relationship being authored. It is the zero Draft in Idle.
func (w *Workflow) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// Active reports whether node clicks belong to the workflow rather than to
// the selection.
func (w *Workflow) Active() bool {
	return w.State() != Idle
}

// Start begins a new relationship and clears the selection.
func (w *Workflow) Start() error {
	if err := w.apply(event{kind: evStart}); err != nil {
		return err
	}
	if w.selection != nil {
		w.selection.ClickBackground()
	}
	return nil
}

// ClickNode records the clicked class as source or target.
func (w *Workflow) ClickNode(classID string) error {
	return w.apply(event{kind: evClickNode, arg: classID})
}

// SetType records the relationship type text.
func (w *Workflow) SetType(text string) error {
	return w.apply(event{kind: evSetType, arg: text})
}

// Cancel abandons the draft. Nothing is committed.
func (w *Workflow) Cancel() error {
	return w.apply(event{kind: evCancel})
}

// CancelIfActive abandons the draft if there is one.
func (w *Workflow) CancelIfActive() {
	if w.Active() {
		_ = w.Cancel()
	}
}

// Confirm commits the drafted relationship. On success the workflow returns
// to Idle and the reload function runs. On failure the state is unchanged so
// the user can retry or cancel.
func (w *Workflow) Confirm(ctx context.Context) error {
	w.mu.Lock()
	if w.committing {
		w.mu.Unlock()
		return ErrCommitInProgress
	}
	if _, _, err := next(w.state, w.draft, event{kind: evConfirm}); err != nil {
		w.mu.Unlock()
		return err
	}
	rel := w.draft.Relationship()
	gen := w.generation
	w.committing = true
	w.mu.Unlock()

	err := backend.ValidateNew(rel)
	if err == nil {
		err = w.writer.CreateRelationship(ctx, rel)
	}

	w.mu.Lock()
	w.committing = false
	if err != nil {
		w.mu.Unlock()
		w.logger.Warn("relationship commit failed",
			zap.String("source", rel.Source),
			zap.String("type", rel.Type),
			zap.String("target", rel.Target),
			zap.Error(err))
		notify.Report(w.notifier, "create relationship", err)
		return err
	}

	// A Cancel while the request was in flight already moved us to Idle.
	var observers []func(State, Draft)
	if w.generation == gen {
		w.state, w.draft = Idle, Draft{}
		w.generation++
		observers = w.observers
	}
	w.mu.Unlock()

	w.logger.Info("relationship created",
		zap.String("source", rel.Source),
		zap.String("type", rel.Type),
		zap.String("target", rel.Target))
	for _, fn := range observers {
		fn(Idle, Draft{})
	}

	if w.reload != nil {
		if err := w.reload(ctx); err != nil {
			notify.Report(w.notifier, "reload schema", err)
		}
	}
	return nil
}

func (w *Workflow) apply(ev event) error {
	w.mu.Lock()
	if w.committing && ev.kind != evCancel {
		w.mu.Unlock()
		return ErrCommitInProgress
	}
	state, draft, err := next(w.state, w.draft, ev)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.state, w.draft = state, draft
	w.generation++
	observers := w.observers
	w.mu.Unlock()

	w.logger.Debug("workflow transition", zap.Stringer("event", ev.kind), zap.Stringer("state", state))
	for _, fn := range observers {
		fn(state, draft)
	}
	return nil
}
