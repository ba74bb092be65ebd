package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/claude-flow/core/internal/logging"
)

// NATSBus implements EventBus over a NATS connection, for deployments that
// run multiple kernel processes sharing one swarm. Event.Type is mapped
// onto a NATS subject by natsSubject. Unlike MemoryBus, handler dispatch order
// across processes is not guaranteed; NATSBus satisfies the EventBus
// contract's API shape, not its single-process ordering invariants — those
// are guaranteed only by MemoryBus, which remains the default.
type NATSBus struct {
	conn   *nats.Conn
	logger *logging.Logger
}

// NewNATSBus dials url and wires reconnection logging through log.
func NewNATSBus(url string, log *logging.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("claude-flow-kernel"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("nats error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	log.Info("connected to nats", zap.String("url", url))
	return &NATSBus{conn: conn, logger: log}, nil
}

func (b *NATSBus) Subscribe(eventType string, handler Handler) Subscription {
	subject := natsSubject(eventType)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to unmarshal event", zap.Error(err))
			return
		}
		if err := handler(&event); err != nil {
			b.logger.Error("event handler error", zap.String("event_type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		b.logger.Error("failed to subscribe", zap.String("subject", subject), zap.Error(err))
		return &natsSubscription{}
	}
	return &natsSubscription{sub: sub}
}

func (b *NATSBus) Emit(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := b.conn.Publish(natsSubject(event.Type), data); err != nil {
		b.logger.Error("failed to publish event", zap.String("event_type", event.Type), zap.Error(err))
	}
}

// EmitAsync on the NATS backend is equivalent to Emit: NATS publish is
// already non-blocking and offers no local handler list to join on.
func (b *NATSBus) EmitAsync(event *Event) []error {
	b.Emit(event)
	return nil
}

func (b *NATSBus) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

// natsSubject maps a kernel event type (e.g. "task:completed") onto a NATS
// subject ("task.completed"); the kernel wildcard type maps to the NATS
// full wildcard ">".
func natsSubject(eventType string) string {
	if eventType == WildcardType {
		return ">"
	}
	out := make([]rune, 0, len(eventType))
	for _, r := range eventType {
		if r == ':' {
			out = append(out, '.')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
