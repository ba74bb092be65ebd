package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/logging"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	log, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	return eventbus.NewMemoryBus(log)
}

func TestSendAndDrainPreservesOrder(t *testing.T) {
	b := NewMessageBus(0, newTestBus(t))
	b.Send("a", NewMessage("ping", "x", "a", 1, ""))
	b.Send("a", NewMessage("ping", "x", "a", 2, ""))

	msgs := b.Drain("a")
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Payload)
	assert.Equal(t, 2, msgs[1].Payload)
	assert.Equal(t, 0, b.Len("a"))
}

func TestSendOverflowDropsOldestAndEmitsSystemError(t *testing.T) {
	bus := newTestBus(t)
	var gotError bool
	bus.Subscribe("system:error", func(e *eventbus.Event) error {
		gotError = true
		return nil
	})

	b := NewMessageBus(2, bus)
	b.Send("a", NewMessage("t", "x", "a", "first", ""))
	b.Send("a", NewMessage("t", "x", "a", "second", ""))
	b.Send("a", NewMessage("t", "x", "a", "third", ""))

	msgs := b.Drain("a")
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Payload)
	assert.Equal(t, "third", msgs[1].Payload)
	assert.True(t, gotError)
}

func TestSendOverflowDoesNotResurrectConcurrentDrain(t *testing.T) {
	b := NewMessageBus(1, newTestBus(t))
	b.Send("a", NewMessage("t", "x", "a", "first", ""))

	// Send observes the inbox at capacity and must not reintroduce a
	// pre-overflow snapshot after a concurrent Drain has already cleared it.
	b.Drain("a")
	b.Send("a", NewMessage("t", "x", "a", "second", ""))

	msgs := b.Drain("a")
	require.Len(t, msgs, 1)
	assert.Equal(t, "second", msgs[0].Payload)
}

func TestDrainEmptyInboxReturnsNil(t *testing.T) {
	b := NewMessageBus(0, newTestBus(t))
	assert.Empty(t, b.Drain("nobody"))
}

func TestNewMessageStampsIDAndTimestamp(t *testing.T) {
	m := NewMessage("task:assign", "a", "b", nil, "corr-1")
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.Timestamp.IsZero())
	assert.Equal(t, "corr-1", m.CorrelationID)
}
