package bus

import (
	"context"
	"sync"
)

type OutboundHandler func(msg OutboundMessage)

// MessageBus carries inbound events from channels to the gateway and
// outbound messages from the gateway to channel subscribers.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string][]OutboundHandler
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string][]OutboundHandler),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// DispatchOutbound delivers outbound messages to the subscribers of their
// channel until ctx is done. Messages for channels without subscribers are
// dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handlers := b.subs[msg.Channel]
			b.mu.RUnlock()
			for _, fn := range handlers {
				fn(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
