// Package notify surfaces transient, user-facing notifications. Failures that
// leave explorer state unchanged are reported here instead of being returned
// up a call chain that has no user to show them to.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/backend"
)

// Kind classifies a notification.
type Kind int

const (
	KindInfo Kind = iota
	KindTransport
	KindNotFound
	KindInvalidInput
	KindUnsupported
	KindCancelled
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnsupported:
		return "unsupported"
	case KindCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classify maps an error onto a notification kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInfo
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case backend.IsTransport(err):
		return KindTransport
	case backend.IsNotFound(err):
		return KindNotFound
	case errors.Is(err, backend.ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, backend.ErrInvalidRequest):
		return KindInvalidInput
	default:
		return KindError
	}
}

// Notification is one transient message.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Notification) {}

const (
	// DefaultTTL is how long a notification stays visible.
	DefaultTTL = 5 * time.Second

	// DefaultCapacity bounds the number of retained notifications.
	DefaultCapacity = 20
)

// Center fans notifications out to subscribers, logs them, and keeps the
// recent ones for display until they expire.
type Center struct {
	mu       sync.Mutex
	recent   []Notification
	subs     []func(Notification)
	ttl      time.Duration
	capacity int
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Center.
type Option func(*Center)

// WithTTL sets how long notifications stay visible.
func WithTTL(d time.Duration) Option {
	return func(c *Center) { c.ttl = d }
}

// WithCapacity bounds the number of retained notifications.
func WithCapacity(n int) Option {
	return func(c *Center) { c.capacity = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Center) { c.now = now }
}

// NewCenter creates a notification center.
func NewCenter(logger *zap.Logger, opts ...Option) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Center{
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for every future notification.
func (c *Center) Subscribe(fn func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Notify records n and delivers it to subscribers.
func (c *Center) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = c.now()
	}

	c.mu.Lock()
	c.recent = append(c.recent, n)
	if c.capacity > 0 && len(c.recent) > c.capacity {
		c.recent = c.recent[len(c.recent)-c.capacity:]
	}
	subs := c.subs
	c.mu.Unlock()

	fields := []zap.Field{zap.String("kind", n.Kind.String()), zap.String("message", n.Message)}
	if n.Op != "" {
		fields = append(fields, zap.String("op", n.Op))
	}
	switch n.Kind {
	case KindInfo, KindCancelled:
		c.logger.Info("notification", fields...)
	default:
		c.logger.Warn("notification", fields...)
	}

	for _, fn := range subs {
		fn(n)
	}
}

// Error classifies err and notifies it under op. Nil errors are ignored.
func (c *Center) Error(op string, err error) {
	Report(c, op, err)
}

// Info notifies a plain message.
func (c *Center) Info(op, message string) {
	c.Notify(Notification{Kind: KindInfo, Op: op, Message: message})
}

// Recent returns the notifications that have not expired, oldest first.
func (c *Center) Recent() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	live := c.recent[:0]
	for _, n := range c.recent {
		if n.At.After(cutoff) {
			live = append(live, n)
		}
	}
	c.recent = live

	out := make([]Notification, len(live))
	copy(out, live)
	return out
}

// Report classifies err and sends it to notifier under op.
func Report(notifier Notifier, op string, err error) {
	if notifier == nil || err == nil {
		return
	}
	notifier.Notify(Notification{Kind: Classify(err), Op: op, Message: err.Error()})
}
