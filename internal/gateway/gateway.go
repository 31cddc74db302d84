package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/bus"
	"github.com/stellarlinkco/banterbot/internal/channel"
	"github.com/stellarlinkco/banterbot/internal/config"
	"github.com/stellarlinkco/banterbot/internal/cron"
	"github.com/stellarlinkco/banterbot/internal/persona"
)

// ChannelFactory creates the channel manager (allows mocking in tests).
type ChannelFactory func(cfg *config.Config, b *bus.MessageBus, log zerolog.Logger) (*channel.ChannelManager, error)

// Options for creating a Gateway
type Options struct {
	AgentOptions
	Channels   ChannelFactory
	SignalChan chan os.Signal // for testing signal handling
}

func defaultChannels(cfg *config.Config, b *bus.MessageBus, log zerolog.Logger) (*channel.ChannelManager, error) {
	return channel.NewChannelManager(cfg.Telegram, b, log)
}

type Gateway struct {
	*Agent
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	cron       *cron.Service
	handlers   sync.WaitGroup
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config, log zerolog.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, Options{AgentOptions: AgentOptions{Logger: log}})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	agent, err := NewAgent(cfg, opts.AgentOptions)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		Agent:      agent,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
	}
	g.log = opts.Logger.With().Str("component", "gateway").Logger()

	jobs, err := cron.DefaultJobs(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("build schedule: %w", err)
	}
	g.cron = cron.NewService(jobs, cron.Options{
		Location:   agent.loc,
		QuietStart: cfg.Schedule.NightStartHour,
		QuietEnd:   cfg.Schedule.NightEndHour,
		Grace:      cfg.Schedule.Grace,
		Logger:     opts.Logger.With().Str("component", "cron").Logger(),
	})
	g.cron.OnJob = g.onJob

	factory := opts.Channels
	if factory == nil {
		factory = defaultChannels
	}
	chMgr, err := factory(cfg, g.bus, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr
	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.resolver.AddMentions(g.channels.SelfNames()...)
	g.log.Info().Strs("channels", g.channels.EnabledChannels()).Strs("mentions", g.channels.SelfNames()).Msg("channels started")

	if err := g.cron.Start(ctx); err != nil {
		_ = g.channels.StopAll()
		return fmt.Errorf("start scheduler: %w", err)
	}

	go g.processLoop(ctx)

	g.notifyAdmin(ctx, fmt.Sprintf("banterbot started, %d scheduled jobs", len(g.cron.Jobs())))
	g.log.Info().Int64("target_chat", g.cfg.Telegram.TargetChatID).Msg("running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.log.Info().Msg("shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handlers.Add(1)
			go func() {
				defer g.handlers.Done()
				g.handle(ctx, msg)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// handle processes one event in isolation: a panic is logged and reported
// to the admin chat, and other conversations keep running.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	log := g.log.With().
		Str("event_id", uuid.NewString()).
		Int64("chat_id", msg.ChatID).
		Int64("sender_id", msg.SenderID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("handler panicked")
			g.notifyAdmin(ctx, fmt.Sprintf("handler panic in chat %d: %v", msg.ChatID, r))
		}
	}()

	log.Debug().Str("text", truncate(msg.Text, 80)).Msg("inbound")
	out, ok := g.Respond(ctx, msg, log)
	if !ok {
		return
	}
	g.publish(ctx, out)
}

func (g *Gateway) onJob(ctx context.Context, job cron.Job) error {
	target := g.cfg.Telegram.TargetChatID
	if target == 0 {
		return fmt.Errorf("job %s: TARGET_CHAT_ID is not set", job.Name)
	}
	text := g.Proactive(ctx, channel.TelegramChannelName, target, persona.Kind(job.Kind))
	if text == "" {
		return fmt.Errorf("job %s: empty message", job.Name)
	}
	g.publish(ctx, bus.OutboundMessage{Channel: channel.TelegramChannelName, ChatID: target, Content: text})
	return nil
}

func (g *Gateway) notifyAdmin(ctx context.Context, text string) {
	if g.cfg.Telegram.AdminChatID == 0 {
		return
	}
	g.publish(ctx, bus.OutboundMessage{Channel: channel.TelegramChannelName, ChatID: g.cfg.Telegram.AdminChatID, Content: text})
}

func (g *Gateway) publish(ctx context.Context, out bus.OutboundMessage) {
	select {
	case g.bus.Outbound <- out:
	case <-ctx.Done():
		g.log.Warn().Int64("chat_id", out.ChatID).Msg("shutdown, outbound message dropped")
	}
}

// Shutdown stops the scheduler, waits briefly for in-flight handlers and
// stops the channels.
func (g *Gateway) Shutdown() error {
	g.cron.Stop()

	done := make(chan struct{})
	go func() {
		g.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		g.log.Warn().Msg("timeout waiting for message handlers")
	}

	_ = g.channels.StopAll()
	g.log.Info().Msg("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
