package websocket

import (
	"context"
)

// Changes is a coalescing change feed, such as a coordinator subscription.
type Changes interface {
	C() <-chan struct{}
	Drain() []string
}

// Forward broadcasts one message per changed topic until ctx is done or
// the feed closes. resolve maps a topic to its message.
func (h *Hub) Forward(ctx context.Context, changes Changes, resolve func(topic string) Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes.C():
			if !ok {
				return
			}
			for _, topic := range changes.Drain() {
				msg := resolve(topic)
				if msg.Type == "" {
					continue
				}
				h.Broadcast(msg.Type, msg.Data)
			}
		}
	}
}
