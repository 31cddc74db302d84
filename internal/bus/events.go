package bus

import (
	"strconv"
	"time"
)

type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

type InboundMessage struct {
	Channel      string
	ChatID       int64
	ChatKind     ChatKind
	SenderID     int64
	SenderName   string
	MessageID    int
	Text         string
	// Command is the bot command without the slash ("start"), if any.
	Command      string
	ReplyToAgent bool
	Timestamp    time.Time
}

// SessionKey is the conversation key: one history stream per chat.
func (m *InboundMessage) SessionKey() string {
	return SessionKey(m.Channel, m.ChatID)
}

func (m *InboundMessage) IsPrivate() bool {
	return m.ChatKind == ChatPrivate
}

func SessionKey(channel string, chatID int64) string {
	return channel + ":" + strconv.FormatInt(chatID, 10)
}

type OutboundMessage struct {
	Channel string
	ChatID  int64
	Content string
	ReplyTo int
}
