package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/banterbot/internal/bus"
	"github.com/stellarlinkco/banterbot/internal/config"
)

const (
	TelegramChannelName = "telegram"
	// Telegram rejects messages over 4096 characters.
	maxMessageRunes = 4000
	pollTimeout     = 25
	// pollMargin is added to the long-poll wait for the HTTP client timeout.
	pollMargin = 10 * time.Second
)

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token        string
	proxy        string
	sendTimeout  time.Duration
	sendRetries  int
	sendInterval time.Duration
	botFactory   BotFactory
	log          zerolog.Logger

	// mu guards bot, self, ctx and cancel.
	mu     sync.RWMutex
	bot    TelegramBot
	self   tgbotapi.User
	ctx    context.Context
	cancel context.CancelFunc

	limMu    sync.Mutex
	limiters map[int64]*rate.Limiter
	// retryBackOff is replaced in tests to avoid real sleeps.
	retryBackOff func() backoff.BackOff
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, log zerolog.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, log, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, log zerolog.Logger, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, config.ErrMissingToken
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = config.DefaultSendTimeout
	}

	ch := &TelegramChannel{
		BaseChannel:  NewBaseChannel(TelegramChannelName, b, cfg.AllowFrom),
		token:        cfg.Token,
		proxy:        cfg.Proxy,
		sendTimeout:  sendTimeout,
		sendRetries:  max(cfg.SendRetries, 0),
		sendInterval: cfg.SendInterval,
		ctx:          context.Background(),
		botFactory:   factory,
		log:          log.With().Str("component", TelegramChannelName).Logger(),
		limiters:     make(map[int64]*rate.Limiter),
		retryBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = time.Second
			eb.MaxInterval = 10 * time.Second
			return eb
		},
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	transport := http.DefaultTransport
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	client := &http.Client{Transport: transport, Timeout: clientTimeout(t.sendTimeout)}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	self := bot.GetSelf()
	t.mu.Lock()
	t.bot = bot
	t.self = self
	t.mu.Unlock()
	t.log.Info().Str("username", self.UserName).Msg("authorized")
	return nil
}

// clientTimeout is the HTTP client timeout shared by sends and getUpdates.
// It never drops below the long-poll wait plus pollMargin.
func clientTimeout(sendTimeout time.Duration) time.Duration {
	return max(sendTimeout, pollTimeout*time.Second+pollMargin)
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.ctx = ctx
	t.cancel = cancel
	bot := t.bot
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.log.Info().Msg("polling started")
	return nil
}

// SelfName returns the bot's @username, empty before Start.
func (t *TelegramChannel) SelfName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.self.UserName == "" {
		return ""
	}
	return "@" + t.self.UserName
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID, msg.From.UserName) {
		t.log.Debug().Str("sender", senderID).Str("username", msg.From.UserName).Msg("rejected message")
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	in := bus.InboundMessage{
		Channel:    TelegramChannelName,
		ChatID:     msg.Chat.ID,
		ChatKind:   bus.ChatGroup,
		SenderID:   msg.From.ID,
		SenderName: displayName(msg.From),
		MessageID:  msg.MessageID,
		Text:       text,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	}
	if msg.Chat.IsPrivate() {
		in.ChatKind = bus.ChatPrivate
	}
	if msg.IsCommand() {
		in.Command = strings.ToLower(msg.Command())
	}
	t.mu.RLock()
	selfID := t.self.ID
	t.mu.RUnlock()
	if r := msg.ReplyToMessage; r != nil && r.From != nil && selfID != 0 && r.From.ID == selfID {
		in.ReplyToAgent = true
	}

	select {
	case t.bus.Inbound <- in:
	case <-ctx.Done():
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}

func (t *TelegramChannel) Stop() error {
	t.mu.RLock()
	cancel, bot := t.cancel, t.bot
	t.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	t.log.Info().Msg("stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	self := bot.GetSelf()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = bot
	t.self = self
}

// Send delivers msg as plain text, split into chunks Telegram accepts. Sends
// to one chat are spaced by the configured interval. A failed chunk is
// retried up to SendRetries times before the rest of the message is dropped.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	t.mu.RLock()
	bot, runCtx := t.bot, t.ctx
	t.mu.RUnlock()
	if bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("telegram: missing chat id")
	}

	for i, chunk := range splitMessage(msg.Content, maxMessageRunes) {
		tgMsg := tgbotapi.NewMessage(msg.ChatID, chunk)
		if i == 0 && msg.ReplyTo != 0 {
			tgMsg.ReplyToMessageID = msg.ReplyTo
		}
		if err := t.sendChunk(runCtx, bot, msg.ChatID, tgMsg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) sendChunk(parent context.Context, bot TelegramBot, chatID int64, tgMsg tgbotapi.MessageConfig) error {
	ctx, cancel := context.WithTimeout(parent, t.sendTimeout)
	defer cancel()

	if err := t.limiter(chatID).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := backoff.Retry(ctx, func() (tgbotapi.Message, error) {
		m, err := bot.Send(tgMsg)
		if err != nil {
			var tgErr *tgbotapi.Error
			if errors.As(err, &tgErr) && tgErr.Code >= 400 && tgErr.Code < 500 && tgErr.Code != http.StatusTooManyRequests {
				return m, backoff.Permanent(err)
			}
			t.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")
		}
		return m, err
	}, backoff.WithBackOff(t.retryBackOff()), backoff.WithMaxTries(uint(t.sendRetries+1)))
	return err
}

func (t *TelegramChannel) limiter(chatID int64) *rate.Limiter {
	t.limMu.Lock()
	defer t.limMu.Unlock()
	l, ok := t.limiters[chatID]
	if !ok {
		limit := rate.Inf
		if t.sendInterval > 0 {
			limit = rate.Every(t.sendInterval)
		}
		l = rate.NewLimiter(limit, 1)
		t.limiters[chatID] = l
	}
	return l
}

// splitMessage cuts s into pieces of at most limit runes, preferring to
// break after the last newline of each piece.
func splitMessage(s string, limit int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(s) > limit {
		cut := 0
		for i := 0; i < limit; i++ {
			_, size := utf8.DecodeRuneInString(s[cut:])
			cut += size
		}
		if nl := strings.LastIndex(s[:cut], "\n"); nl > 0 {
			cut = nl
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimLeft(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
