package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/bus"
	"github.com/stellarlinkco/banterbot/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      zerolog.Logger
	sending  sync.WaitGroup
}

// NewManager returns a manager without channels.
func NewManager(b *bus.MessageBus, log zerolog.Logger) *ChannelManager {
	return &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		log:      log.With().Str("component", "channel-mgr").Logger(),
	}
}

func NewChannelManager(cfg config.TelegramConfig, b *bus.MessageBus, log zerolog.Logger) (*ChannelManager, error) {
	m := NewManager(b, log)
	ch, err := NewTelegramChannel(cfg, b, log)
	if err != nil {
		return nil, fmt.Errorf("init telegram channel: %w", err)
	}
	m.Register(ch)
	return m, nil
}

// Register adds ch and subscribes it to outbound messages for its name.
// Each outbound message is sent on its own goroutine so a slow chat does not
// hold up the others.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		m.sending.Add(1)
		go func() {
			defer m.sending.Done()
			if err := ch.Send(msg); err != nil {
				m.log.Error().Err(err).Str("channel", ch.Name()).Int64("chat_id", msg.ChatID).Msg("send failed, dropping message")
			}
		}()
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.log.Info().Str("channel", name).Msg("starting")
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// StopAll stops every channel and waits for in-flight sends.
func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.log.Info().Str("channel", name).Msg("stopping")
		if err := ch.Stop(); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("error stopping")
		}
	}
	m.sending.Wait()
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// SelfNames collects the bot handles of started channels.
func (m *ChannelManager) SelfNames() []string {
	var names []string
	for _, ch := range m.channels {
		if s, ok := ch.(SelfNamer); ok {
			if n := s.SelfName(); n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}
