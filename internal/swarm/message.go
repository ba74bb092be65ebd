package swarm

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-flow/core/internal/eventbus"
)

// BroadcastTo is the sentinel "to" address meaning every current member.
const BroadcastTo = "broadcast"

// Message is one swarm-internal message, routed through the active
// topology strategy and delivered into bounded per-agent inboxes.
type Message struct {
	ID            string
	Type          string
	From          string
	To            string
	Payload       interface{}
	Timestamp     time.Time
	CorrelationID string
}

// DefaultInboxCapacity bounds each agent's inbox; overflow drops the
// oldest message and emits system:error.
const DefaultInboxCapacity = 256

// MessageBus delivers messages to bounded per-agent inboxes, preserving
// send order from a given sender to a given receiver. Cross-sender order
// is not guaranteed, matching the concurrency model's ordering law.
type MessageBus struct {
	mu       sync.Mutex
	inboxes  map[string][]Message
	capacity int
	bus      eventbus.EventBus
}

func NewMessageBus(capacity int, bus eventbus.EventBus) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &MessageBus{
		inboxes:  make(map[string][]Message),
		capacity: capacity,
		bus:      bus,
	}
}

// Send appends msg to the recipient's inbox, dropping the oldest entry and
// emitting system:error if the inbox is already at capacity.
func (b *MessageBus) Send(to string, msg Message) {
	b.mu.Lock()
	inbox := b.inboxes[to]
	overflowed := len(inbox) >= b.capacity
	if overflowed {
		inbox = inbox[1:]
	}
	inbox = append(inbox, msg)
	b.inboxes[to] = inbox
	b.mu.Unlock()

	if overflowed && b.bus != nil {
		b.bus.Emit(eventbus.NewEvent("system:error", "swarm", map[string]interface{}{
			"reason":  "inbox-overflow",
			"agentId": to,
		}))
	}
}

// Drain removes and returns every pending message for agentID, in send
// order, clearing its inbox.
func (b *MessageBus) Drain(agentID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.inboxes[agentID]
	delete(b.inboxes, agentID)
	return msgs
}

// Len reports how many messages are pending for agentID.
func (b *MessageBus) Len(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inboxes[agentID])
}

// NewMessage constructs a Message with a fresh id and current timestamp.
func NewMessage(msgType, from, to string, payload interface{}, correlationID string) Message {
	return Message{
		ID:            uuid.NewString(),
		Type:          msgType,
		From:          from,
		To:            to,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}
