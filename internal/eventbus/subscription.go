package eventbus

import "github.com/nats-io/nats.go"

// natsSubscription adapts a *nats.Subscription to the Subscription interface.
type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() {
	if s.sub == nil {
		return
	}
	_ = s.sub.Unsubscribe()
}
