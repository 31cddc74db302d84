package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/addressing"
	"github.com/stellarlinkco/banterbot/internal/bus"
	"github.com/stellarlinkco/banterbot/internal/config"
	"github.com/stellarlinkco/banterbot/internal/llm"
	"github.com/stellarlinkco/banterbot/internal/memory"
	"github.com/stellarlinkco/banterbot/internal/persona"
	"github.com/stellarlinkco/banterbot/internal/responder"
	"github.com/stellarlinkco/banterbot/internal/weather"
)

// AgentOptions overrides collaborators; nil fields are built from config.
type AgentOptions struct {
	LLM     llm.Client
	Weather weather.Provider
	Persona *persona.Persona
	Rand    func(n int) int
	Logger  zerolog.Logger
}

// Agent is the transport-independent part of the bot: it decides whether a
// message gets an answer, produces it, and keeps the conversation state.
type Agent struct {
	cfg       *config.Config
	log       zerolog.Logger
	loc       *time.Location
	persona   *persona.Persona
	resolver  *addressing.Resolver
	store     *memory.Store
	daily     *memory.DailyLog
	responder *responder.Generator
	now       func() time.Time
}

func NewAgent(cfg *config.Config, opts AgentOptions) (*Agent, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	p := opts.Persona
	if p == nil {
		if p, err = persona.Load(cfg.PersonaFile); err != nil {
			return nil, err
		}
	}

	client := opts.LLM
	if client == nil {
		if client, err = llm.New(cfg, opts.Logger); err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
	}

	wp := opts.Weather
	if wp == nil && cfg.WeatherEnabled() {
		wp = weather.NewOpenWeatherMap(cfg.Weather)
	}

	id := cfg.Identities
	resolver := addressing.NewResolver(addressing.Options{
		TargetChatID:  cfg.Telegram.TargetChatID,
		PrimaryID:     id.PrimaryID,
		PrimaryNames:  append([]string{id.PrimaryName}, id.PrimaryAliases...),
		SecondaryIDs:  id.SecondaryIDs,
		SecondaryGate: id.SecondaryGate,
		Mentions:      id.BotAliases,
	})

	store := memory.NewStore(cfg.Memory.HistoryLimit)
	a := &Agent{
		cfg:      cfg,
		log:      opts.Logger,
		loc:      loc,
		persona:  p,
		resolver: resolver,
		store:    store,
		daily:    memory.NewDailyLog(loc, cfg.Memory.DailyLogLimit),
		now:      time.Now,
	}
	a.responder = responder.New(responder.Options{
		Persona:         p,
		Store:           store,
		LLM:             client,
		Resolver:        resolver,
		Weather:         wp,
		WeatherLocation: cfg.Weather.Location,
		SubjectName:     id.PrimaryName,
		RecapMaxChars:   cfg.Memory.RecapMaxChars,
		Location:        loc,
		Rand:            opts.Rand,
		Logger:          opts.Logger.With().Str("component", "responder").Logger(),
	})
	return a, nil
}

func (a *Agent) Resolver() *addressing.Resolver {
	return a.resolver
}

// Respond handles one inbound message and returns the reply to send, if any.
// Group messages in the target chat are recorded in the daily log whether
// or not they are answered.
func (a *Agent) Respond(ctx context.Context, msg bus.InboundMessage, log zerolog.Logger) (bus.OutboundMessage, bool) {
	if strings.TrimSpace(msg.Text) == "" {
		return bus.OutboundMessage{}, false
	}

	if msg.Command != "" {
		if msg.Command == "start" && msg.IsPrivate() && a.persona.StartText != "" {
			return a.outbound(msg, a.persona.StartText), true
		}
		log.Debug().Str("command", msg.Command).Msg("ignoring command")
		return bus.OutboundMessage{}, false
	}

	if a.inTargetGroup(msg) {
		at := msg.Timestamp
		if at.IsZero() {
			at = a.now()
		}
		a.daily.Add(msg.SessionKey(), at, msg.SenderName, msg.Text)
	}

	mode := a.resolver.Resolve(msg)
	log.Debug().Stringer("mode", mode).Msg("resolved")
	if !mode.Responds() {
		return bus.OutboundMessage{}, false
	}

	res := a.responder.Reply(ctx, responder.Request{
		Key:        msg.SessionKey(),
		Mode:       mode,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
	})
	log.Info().Stringer("mode", mode).Str("kind", string(res.Kind)).Bool("fallback", res.Fallback).Msg("replying")
	if strings.TrimSpace(res.Text) == "" {
		return bus.OutboundMessage{}, false
	}
	return a.outbound(msg, res.Text), true
}

// Proactive produces the scheduled message of the given kind for chatID. A
// recap drains that chat's daily log.
func (a *Agent) Proactive(ctx context.Context, channel string, chatID int64, kind persona.Kind) string {
	key := bus.SessionKey(channel, chatID)
	now := a.now()
	req := responder.ProactiveRequest{Key: key, Kind: kind, Now: now}
	if kind == persona.KindRecap {
		req.Digest = a.daily.Drain(key, now)
	}
	res := a.responder.Proactive(ctx, req)
	a.log.Info().Str("kind", string(kind)).Bool("fallback", res.Fallback).Int("digest", len(req.Digest)).Msg("proactive message")
	return res.Text
}

func (a *Agent) inTargetGroup(msg bus.InboundMessage) bool {
	if msg.IsPrivate() {
		return false
	}
	target := a.cfg.Telegram.TargetChatID
	return target == 0 || msg.ChatID == target
}

func (a *Agent) outbound(msg bus.InboundMessage, text string) bus.OutboundMessage {
	out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: text}
	if !msg.IsPrivate() {
		out.ReplyTo = msg.MessageID
	}
	return out
}
