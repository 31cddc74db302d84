package addressing

import (
	"testing"

	"github.com/stellarlinkco/banterbot/internal/bus"
)

const (
	targetChat = int64(-1001)
	otherChat  = int64(-2002)
	primaryID  = int64(42)
	supportID  = int64(77)
	strangerID = int64(99)
)

func newTestResolver(gate bool) *Resolver {
	return NewResolver(Options{
		TargetChatID:  targetChat,
		PrimaryID:     primaryID,
		PrimaryNames:  []string{"Дима", "Димон"},
		SecondaryIDs:  []int64{supportID},
		SecondaryGate: gate,
		Mentions:      []string{"@PersonaBot", "Ботяра"},
	})
}

func group(chatID, sender int64, text string) bus.InboundMessage {
	return bus.InboundMessage{ChatID: chatID, ChatKind: bus.ChatGroup, SenderID: sender, Text: text}
}

func TestResolve_Table(t *testing.T) {
	r := newTestResolver(true)

	tests := []struct {
		name string
		msg  bus.InboundMessage
		want Mode
	}{
		{"private stranger", bus.InboundMessage{ChatID: 5, ChatKind: bus.ChatPrivate, SenderID: strangerID, Text: "привет"}, RespondAsAddressed},
		{"private outside target", bus.InboundMessage{ChatID: otherChat, ChatKind: bus.ChatPrivate, SenderID: primaryID, Text: "ку"}, RespondAsAddressed},
		{"empty text", group(targetChat, primaryID, "   "), NoResponse},
		{"private empty text", bus.InboundMessage{ChatKind: bus.ChatPrivate, Text: "\n"}, NoResponse},
		{"primary in target", group(targetChat, primaryID, "устал"), RespondAsPrimarySubject},
		{"primary in other group", group(otherChat, primaryID, "устал"), NoResponse},
		{"mention in other group", group(otherChat, strangerID, "@personabot ты тут?"), NoResponse},
		{"stranger mention", group(targetChat, strangerID, "эй @PERSONABOT"), RespondAsAddressed},
		{"cyrillic alias case-insensitive", group(targetChat, strangerID, "БОТЯРА, скажи"), RespondAsAddressed},
		{"substring mention", group(targetChat, strangerID, "суперботяра"), RespondAsAddressed},
		{"primary mention wins", group(targetChat, primaryID, "@personabot привет"), RespondAsAddressed},
		{"primary reply wins", bus.InboundMessage{ChatID: targetChat, ChatKind: bus.ChatGroup, SenderID: primaryID, Text: "ага", ReplyToAgent: true}, RespondAsAddressed},
		{"stranger reply", bus.InboundMessage{ChatID: targetChat, ChatKind: bus.ChatGroup, SenderID: strangerID, Text: "ну да", ReplyToAgent: true}, RespondAsAddressed},
		{"secondary about primary", group(targetChat, supportID, "дима молодец"), RespondAsSecondary},
		{"secondary off topic", group(targetChat, supportID, "погода норм"), NoResponse},
		{"stranger plain", group(targetChat, strangerID, "всем привет"), NoResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.msg); got != tt.want {
				t.Errorf("Resolve = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_SecondaryWithoutGate(t *testing.T) {
	r := newTestResolver(false)
	if got := r.Resolve(group(targetChat, supportID, "погода норм")); got != RespondAsSecondary {
		t.Errorf("Resolve = %v, want secondary", got)
	}
}

func TestResolve_NoTargetRestriction(t *testing.T) {
	r := NewResolver(Options{PrimaryID: primaryID})
	if got := r.Resolve(group(otherChat, primaryID, "йо")); got != RespondAsPrimarySubject {
		t.Errorf("Resolve = %v, want primary", got)
	}
}

func TestResolve_PrivateAlwaysResponds(t *testing.T) {
	r := newTestResolver(true)
	for _, sender := range []int64{primaryID, supportID, strangerID, 0} {
		for _, text := range []string{"a", "устал", "@personabot", "?"} {
			msg := bus.InboundMessage{ChatID: sender, ChatKind: bus.ChatPrivate, SenderID: sender, Text: text}
			if mode := r.Resolve(msg); !mode.Responds() {
				t.Errorf("private message from %d %q got %v", sender, text, mode)
			}
		}
	}
}

func TestResolve_RestrictedGroupIgnoresEverything(t *testing.T) {
	r := newTestResolver(false)
	for _, sender := range []int64{primaryID, supportID, strangerID} {
		for _, reply := range []bool{false, true} {
			msg := bus.InboundMessage{ChatID: otherChat, ChatKind: bus.ChatGroup, SenderID: sender, Text: "@personabot дима", ReplyToAgent: reply}
			if mode := r.Resolve(msg); mode != NoResponse {
				t.Errorf("sender %d reply=%v got %v, want none", sender, reply, mode)
			}
		}
	}
}

func TestResolver_AddMentions(t *testing.T) {
	r := NewResolver(Options{})
	if r.Mentioned("hey @late_bot") {
		t.Fatal("no mentions configured yet")
	}
	r.AddMentions("@Late_Bot", "  ")
	if !r.Mentioned("hey @late_bot") {
		t.Error("added mention should match")
	}
}

func TestMode_String(t *testing.T) {
	tests := map[Mode]string{
		NoResponse:              "none",
		RespondAsPrimarySubject: "primary",
		RespondAsSecondary:      "secondary",
		RespondAsAddressed:      "addressed",
	}
	for mode, want := range tests {
		if got := mode.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", mode, got, want)
		}
	}
}
