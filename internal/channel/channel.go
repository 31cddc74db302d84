package channel

import (
	"context"

	"github.com/stellarlinkco/banterbot/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// SelfNamer is implemented by channels that know the bot's own handle once
// started.
type SelfNamer interface {
	SelfName() string
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether any of the sender's identifiers is on the allow
// list. An empty list allows everyone.
func (c *BaseChannel) IsAllowed(ids ...string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, id := range ids {
		if id != "" && c.allowFrom[id] {
			return true
		}
	}
	return false
}
