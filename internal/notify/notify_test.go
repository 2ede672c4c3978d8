package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/ontoscope/internal/backend"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindInfo},
		{"transport", fmt.Errorf("fetching: %w", backend.ErrTransport), KindTransport},
		{"server error", &backend.APIError{StatusCode: 502}, KindTransport},
		{"not found", fmt.Errorf("entity x: %w", backend.ErrNotFound), KindNotFound},
		{"404", &backend.APIError{StatusCode: 404}, KindNotFound},
		{"unsupported", backend.ErrUnsupported, KindUnsupported},
		{"invalid", fmt.Errorf("%w: bad", backend.ErrInvalidRequest), KindInvalidInput},
		{"cancelled", fmt.Errorf("stream: %w", context.Canceled), KindCancelled},
		{"other", errors.New("boom"), KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCenter_NotifyAndSubscribe(t *testing.T) {
	c := NewCenter(nil)

	var got []Notification
	c.Subscribe(func(n Notification) { got = append(got, n) })

	c.Error("expand", fmt.Errorf("fetching neighbors of Alice: %w", backend.ErrTransport))
	c.Error("expand", nil)
	c.Info("schema", "reloaded")

	require.Len(t, got, 2)
	assert.Equal(t, KindTransport, got[0].Kind)
	assert.Equal(t, "expand", got[0].Op)
	assert.Contains(t, got[0].Message, "Alice")
	assert.False(t, got[0].At.IsZero())
	assert.Equal(t, KindInfo, got[1].Kind)
}

func TestCenter_RecentExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCenter(nil, WithTTL(5*time.Second), WithClock(func() time.Time { return now }))

	c.Info("a", "first")
	now = now.Add(3 * time.Second)
	c.Info("b", "second")
	assert.Len(t, c.Recent(), 2)

	now = now.Add(3 * time.Second)
	recent := c.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "second", recent[0].Message)

	now = now.Add(10 * time.Second)
	assert.Empty(t, c.Recent())
}

func TestCenter_Capacity(t *testing.T) {
	c := NewCenter(nil, WithCapacity(3))
	for i := 0; i < 5; i++ {
		c.Info("op", fmt.Sprintf("message %d", i))
	}

	recent := c.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "message 2", recent[0].Message)
	assert.Equal(t, "message 4", recent[2].Message)
}

func TestReport_NilSafe(t *testing.T) {
	Report(nil, "op", errors.New("ignored"))
	Report(Nop{}, "op", errors.New("ignored"))
}
