package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/claude-flow/core/internal/logging"
)

// MemoryBus is the default EventBus: synchronous, in-process, type-keyed
// fan-out with explicit-type subscribers dispatched before wildcard
// subscribers, both in registration order.
type MemoryBus struct {
	mu     sync.Mutex
	byType map[string][]*registration
	logger *logging.Logger
	closed bool
	seq    uint64
}

type registration struct {
	id      uint64
	handler Handler
}

type memorySubscription struct {
	bus       *MemoryBus
	eventType string
	id        uint64
}

func (s *memorySubscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	regs := s.bus.byType[s.eventType]
	for i, r := range regs {
		if r.id == s.id {
			s.bus.byType[s.eventType] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// NewMemoryBus constructs an empty in-memory bus and registers the default
// logger subscriber on the reserved event types.
func NewMemoryBus(log *logging.Logger) *MemoryBus {
	b := &MemoryBus{
		byType: make(map[string][]*registration),
		logger: log,
	}
	b.Subscribe(TypeSystemError, func(e *Event) error {
		log.Error("system error event", zap.String("event_id", e.ID), zap.Any("data", e.Data))
		return nil
	})
	b.Subscribe(TypeDeadlockDetected, func(e *Event) error {
		log.Error("deadlock detected", zap.String("event_id", e.ID), zap.Any("data", e.Data))
		return nil
	})
	return b
}

func (b *MemoryBus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	reg := &registration{id: b.seq, handler: handler}
	b.byType[eventType] = append(b.byType[eventType], reg)

	return &memorySubscription{bus: b, eventType: eventType, id: reg.id}
}

// handlersFor returns a snapshot of explicit-type handlers followed by
// wildcard handlers, each preserving registration order, safe to run
// without holding the bus lock.
func (b *MemoryBus) handlersFor(eventType string) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()

	explicit := b.byType[eventType]
	wildcard := b.byType[WildcardType]

	out := make([]Handler, 0, len(explicit)+len(wildcard))
	for _, r := range explicit {
		out = append(out, r.handler)
	}
	for _, r := range wildcard {
		out = append(out, r.handler)
	}
	return out
}

func (b *MemoryBus) runHandler(handler Handler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", event.Type),
				zap.Any("panic", r))
		}
	}()
	return handler(event)
}

// Emit dispatches event to its subscribers sequentially, in the order
// documented on EventBus.Emit. It never blocks on I/O and never returns an
// error: handler failures are logged, not propagated.
func (b *MemoryBus) Emit(event *Event) {
	for _, h := range b.handlersFor(event.Type) {
		if err := b.runHandler(h, event); err != nil {
			b.logger.Error("event handler error",
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
}

// EmitAsync runs every handler concurrently and blocks until all finish,
// returning their errors (nil entries are dropped) for test observability.
func (b *MemoryBus) EmitAsync(event *Event) []error {
	handlers := b.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for i, h := range handlers {
		go func(i int, h Handler) {
			defer wg.Done()
			errs[i] = b.runHandler(h, event)
		}(i, h)
	}
	wg.Wait()

	out := errs[:0]
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.byType = make(map[string][]*registration)
	return nil
}
