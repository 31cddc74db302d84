// Package addressing decides whether an incoming message is meant for the bot
// and in which capacity the bot should answer it.
package addressing

import (
	"strings"

	"github.com/stellarlinkco/banterbot/internal/bus"
)

type Mode int

const (
	NoResponse Mode = iota
	RespondAsPrimarySubject
	RespondAsSecondary
	RespondAsAddressed
)

func (m Mode) String() string {
	switch m {
	case RespondAsPrimarySubject:
		return "primary"
	case RespondAsSecondary:
		return "secondary"
	case RespondAsAddressed:
		return "addressed"
	default:
		return "none"
	}
}

func (m Mode) Responds() bool {
	return m != NoResponse
}

type Options struct {
	// TargetChatID restricts group handling to one chat when non-zero.
	TargetChatID int64
	PrimaryID    int64
	// PrimaryNames are matched as substrings by the secondary content gate.
	PrimaryNames  []string
	SecondaryIDs  []int64
	SecondaryGate bool
	// Mentions are the tokens that address the bot (its @username, nicknames).
	Mentions []string
}

// Resolver is immutable after construction except for the mention tokens,
// which are only known once the transport has authorized.
type Resolver struct {
	targetChatID  int64
	primaryID     int64
	primaryNames  []string
	secondary     map[int64]struct{}
	secondaryGate bool
	mentions      []string
}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		targetChatID:  opts.TargetChatID,
		primaryID:     opts.PrimaryID,
		primaryNames:  lowerAll(opts.PrimaryNames),
		secondary:     make(map[int64]struct{}, len(opts.SecondaryIDs)),
		secondaryGate: opts.SecondaryGate,
		mentions:      lowerAll(opts.Mentions),
	}
	for _, id := range opts.SecondaryIDs {
		r.secondary[id] = struct{}{}
	}
	return r
}

// AddMentions appends mention tokens. Call it before messages are dispatched.
func (r *Resolver) AddMentions(tokens ...string) {
	r.mentions = append(r.mentions, lowerAll(tokens)...)
}

func (r *Resolver) IsPrimary(senderID int64) bool {
	return r.primaryID != 0 && senderID == r.primaryID
}

func (r *Resolver) IsSecondary(senderID int64) bool {
	_, ok := r.secondary[senderID]
	return ok
}

// MentionsPrimary reports whether text names the primary subject.
func (r *Resolver) MentionsPrimary(text string) bool {
	return containsAny(strings.ToLower(text), r.primaryNames)
}

// Mentioned reports whether text contains any of the bot's mention tokens.
// Matching is by substring, so a token embedded in a longer word matches too.
func (r *Resolver) Mentioned(text string) bool {
	return containsAny(strings.ToLower(text), r.mentions)
}

// Resolve applies the addressing rules in order; the first match wins.
func (r *Resolver) Resolve(msg bus.InboundMessage) Mode {
	if strings.TrimSpace(msg.Text) == "" {
		return NoResponse
	}
	if msg.IsPrivate() {
		return RespondAsAddressed
	}
	if r.targetChatID != 0 && msg.ChatID != r.targetChatID {
		return NoResponse
	}
	if msg.ReplyToAgent || r.Mentioned(msg.Text) {
		return RespondAsAddressed
	}
	if r.IsPrimary(msg.SenderID) {
		return RespondAsPrimarySubject
	}
	if r.IsSecondary(msg.SenderID) && (!r.secondaryGate || r.MentionsPrimary(msg.Text)) {
		return RespondAsSecondary
	}
	return NoResponse
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.ToLower(strings.TrimSpace(item)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
