package bus

import (
	"context"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: -100123}
	if got := msg.SessionKey(); got != "telegram:-100123" {
		t.Errorf("SessionKey = %q, want telegram:-100123", got)
	}
	if msg.IsPrivate() {
		t.Error("zero ChatKind should not be private")
	}
}

func TestMessageBus_DispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "other", ChatID: 1, Content: "dropped"}
	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: 2, Content: "hello"}

	select {
	case msg := <-got:
		if msg.ChatID != 2 || msg.Content != "hello" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound message not dispatched")
	}
}
