package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/addressing"
	"github.com/stellarlinkco/banterbot/internal/bus"
	"github.com/stellarlinkco/banterbot/internal/llm"
	"github.com/stellarlinkco/banterbot/internal/memory"
	"github.com/stellarlinkco/banterbot/internal/persona"
	"github.com/stellarlinkco/banterbot/internal/weather"
)

const (
	targetChat = int64(-100500)
	primaryID  = int64(42)
	fanID      = int64(7)
	strangerID = int64(99)
)

type mockLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.Request
}

func (m *mockLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *mockLLM) last(t *testing.T) llm.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("backend was not called")
	}
	return m.requests[len(m.requests)-1]
}

type mockWeather struct {
	conditions *weather.Conditions
	err        error
	calls      int
}

func (m *mockWeather) Current(context.Context, string) (*weather.Conditions, error) {
	m.calls++
	return m.conditions, m.err
}

func newResolver() *addressing.Resolver {
	return newGatedResolver(true)
}

func newGatedResolver(gate bool) *addressing.Resolver {
	return addressing.NewResolver(addressing.Options{
		TargetChatID:  targetChat,
		PrimaryID:     primaryID,
		PrimaryNames:  []string{"Лёха", "Лёш"},
		SecondaryIDs:  []int64{fanID},
		SecondaryGate: gate,
		Mentions:      []string{"бро"},
	})
}

func newGenerator(client llm.Client, w weather.Provider) (*Generator, *memory.Store) {
	store := memory.NewStore(40)
	g := New(Options{
		Store:           store,
		LLM:             client,
		Resolver:        newResolver(),
		Weather:         w,
		WeatherLocation: "Moscow",
		SubjectName:     "Лёха",
		RecapMaxChars:   3000,
		Location:        time.UTC,
		Rand:            func(n int) int { return n - 1 },
		Logger:          zerolog.Nop(),
	})
	return g, store
}

func groupMessage(sender int64, name, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "telegram",
		ChatID:     targetChat,
		ChatKind:   bus.ChatGroup,
		SenderID:   sender,
		SenderName: name,
		Text:       text,
	}
}

func requestFor(r *addressing.Resolver, msg bus.InboundMessage) Request {
	return Request{
		Key:        msg.SessionKey(),
		Mode:       r.Resolve(msg),
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
	}
}

func contains(pool []string, s string) bool {
	for _, p := range pool {
		if p == s {
			return true
		}
	}
	return false
}

func TestTiredPrimaryFallsBackWhenBackendFails(t *testing.T) {
	backend := &mockLLM{err: errors.New("connection refused")}
	g, store := newGenerator(backend, nil)
	resolver := newResolver()

	msg := groupMessage(primaryID, "Алексей", "устал")
	mode := resolver.Resolve(msg)
	if mode != addressing.RespondAsPrimarySubject {
		t.Fatalf("Resolve = %v, want primary", mode)
	}

	res := g.Reply(context.Background(), requestFor(resolver, msg))
	if !res.Fallback {
		t.Fatal("expected fallback result")
	}
	if res.Kind != persona.KindBanter {
		t.Errorf("Kind = %q, want banter", res.Kind)
	}
	if !contains(g.Persona().Fallbacks[persona.KindBanter], res.Text) {
		t.Errorf("Text = %q is not a banter fallback", res.Text)
	}
	if res.Err == nil {
		t.Error("Err should carry the backend error")
	}

	req := backend.last(t)
	if !strings.Contains(req.System, "Материал для шуток") {
		t.Error("primary subject reply should include the biography")
	}
	if got := req.Messages[len(req.Messages)-1].Content; got != "[Лёха] устал" {
		t.Errorf("user turn = %q", got)
	}

	turns := store.Read(msg.SessionKey())
	if len(turns) != 2 || turns[0].Role != memory.RoleUser || turns[1].Text != res.Text {
		t.Errorf("history = %+v", turns)
	}
}

func TestReplyAppendsHistoryInOrder(t *testing.T) {
	backend := &mockLLM{reply: "ответ"}
	g, store := newGenerator(backend, nil)
	r := newResolver()

	first := groupMessage(primaryID, "Алексей", "привет")
	second := groupMessage(primaryID, "Алексей", "как дела?")

	if res := g.Reply(context.Background(), requestFor(r, first)); res.Fallback || res.Text != "ответ" {
		t.Fatalf("first reply = %+v", res)
	}
	g.Reply(context.Background(), requestFor(r, second))

	req := backend.last(t)
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (history + new turn)", len(req.Messages))
	}
	if req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", req.Messages[0].Role, req.Messages[1].Role)
	}
	if store.Len(first.SessionKey()) != 4 {
		t.Errorf("history len = %d, want 4", store.Len(first.SessionKey()))
	}
}

func TestBiographyGating(t *testing.T) {
	tests := []struct {
		name     string
		msg      bus.InboundMessage
		gateOff  bool
		wantMode addressing.Mode
		wantBio  bool
	}{
		{"primary speaks", groupMessage(primaryID, "Алексей", "ну что"), false, addressing.RespondAsPrimarySubject, true},
		{"supporter about subject", groupMessage(fanID, "Фан", "Лёха молодец"), false, addressing.RespondAsSecondary, true},
		{"supporter gate off unrelated", groupMessage(fanID, "Фан", "какой сегодня день"), true, addressing.RespondAsSecondary, false},
		{"supporter gate off about subject", groupMessage(fanID, "Фан", "Лёш, держись"), true, addressing.RespondAsSecondary, true},
		{"stranger mentions bot only", groupMessage(strangerID, "Вася", "бро, привет"), false, addressing.RespondAsAddressed, false},
		{"stranger mentions bot and subject", groupMessage(strangerID, "Вася", "бро, где Лёха"), false, addressing.RespondAsAddressed, true},
		{
			"private chat stranger",
			bus.InboundMessage{Channel: "telegram", ChatID: 5, ChatKind: bus.ChatPrivate, SenderID: strangerID, Text: "привет"},
			false, addressing.RespondAsAddressed, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockLLM{reply: "ok"}
			g, _ := newGenerator(backend, nil)
			r := newGatedResolver(!tt.gateOff)
			req := requestFor(r, tt.msg)
			if req.Mode != tt.wantMode {
				t.Fatalf("mode = %v, want %v", req.Mode, tt.wantMode)
			}
			g.Reply(context.Background(), req)
			gotBio := strings.Contains(backend.last(t).System, "Материал для шуток")
			if gotBio != tt.wantBio {
				t.Errorf("biography included = %v, want %v", gotBio, tt.wantBio)
			}
		})
	}
}

func TestProvenanceTags(t *testing.T) {
	backend := &mockLLM{reply: "ok"}
	g, _ := newGenerator(backend, nil)
	r := newResolver()

	g.Reply(context.Background(), requestFor(r, groupMessage(strangerID, "Вася", "бро, скажи")))
	if got := backend.last(t).Messages[0].Content; got != "[Вася] бро, скажи" {
		t.Errorf("stranger turn = %q", got)
	}
}

func TestStyleFollowsKind(t *testing.T) {
	backend := &mockLLM{reply: "ok"}
	g, _ := newGenerator(backend, nil)
	r := newResolver()

	g.Reply(context.Background(), requestFor(r, groupMessage(primaryID, "Алексей", "почему так?")))
	q := backend.last(t)
	g.Reply(context.Background(), requestFor(r, groupMessage(primaryID, "Алексей", "ха-ха")))
	b := backend.last(t)

	p := g.Persona()
	if q.Temperature != p.Style(persona.KindQuestion).Temperature || q.MaxTokens != p.Style(persona.KindQuestion).MaxTokens {
		t.Errorf("question request = %+v", q)
	}
	if b.Temperature <= q.Temperature {
		t.Errorf("banter temperature %v should exceed question %v", b.Temperature, q.Temperature)
	}
}

func TestWeatherClause(t *testing.T) {
	t.Run("included when available", func(t *testing.T) {
		backend := &mockLLM{reply: "ok"}
		w := &mockWeather{conditions: &weather.Conditions{Temperature: -5, Description: "снег"}}
		g, _ := newGenerator(backend, w)

		res := g.Reply(context.Background(), requestFor(newResolver(), groupMessage(primaryID, "Алексей", "какая погода?")))
		if res.Kind != persona.KindWeather {
			t.Fatalf("Kind = %q", res.Kind)
		}
		if !strings.Contains(backend.last(t).System, "-5°C, снег") {
			t.Errorf("system lacks weather: %q", backend.last(t).System)
		}
	})

	t.Run("omitted on failure", func(t *testing.T) {
		backend := &mockLLM{reply: "ok"}
		w := &mockWeather{err: errors.New("timeout")}
		g, _ := newGenerator(backend, w)

		res := g.Reply(context.Background(), requestFor(newResolver(), groupMessage(primaryID, "Алексей", "холодно сегодня")))
		if res.Fallback {
			t.Error("weather failure must not force a fallback")
		}
		if strings.Contains(backend.last(t).System, "Погода сейчас") {
			t.Error("weather clause included without data")
		}
		if w.calls != 1 {
			t.Errorf("weather calls = %d", w.calls)
		}
	})

	t.Run("not fetched for other kinds", func(t *testing.T) {
		w := &mockWeather{conditions: &weather.Conditions{Temperature: 1}}
		g, _ := newGenerator(&mockLLM{reply: "ok"}, w)
		g.Reply(context.Background(), requestFor(newResolver(), groupMessage(primaryID, "Алексей", "ну")))
		if w.calls != 0 {
			t.Errorf("weather calls = %d, want 0", w.calls)
		}
	})
}

func TestProactiveMorning(t *testing.T) {
	backend := &mockLLM{reply: "Доброе!"}
	w := &mockWeather{err: errors.New("down")}
	g, store := newGenerator(backend, w)
	key := bus.SessionKey("telegram", targetChat)

	wednesday := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)
	res := g.Proactive(context.Background(), ProactiveRequest{Key: key, Kind: persona.KindMorning, Now: wednesday})
	if res.Fallback || res.Text != "Доброе!" {
		t.Fatalf("result = %+v", res)
	}

	req := backend.last(t)
	instruction := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(instruction, "среда") || !strings.Contains(instruction, "утро") {
		t.Errorf("instruction = %q", instruction)
	}
	if strings.Contains(instruction, "Погода") {
		t.Errorf("instruction mentions weather without data: %q", instruction)
	}
	if !strings.Contains(req.System, "Материал для шуток") {
		t.Error("proactive role text should include the biography")
	}

	turns := store.Read(key)
	if len(turns) != 1 || turns[0].Role != memory.RoleAssistant {
		t.Errorf("history = %+v, want only the assistant turn", turns)
	}
}

func TestProactiveFallback(t *testing.T) {
	g, _ := newGenerator(llm.Disabled{}, nil)
	res := g.Proactive(context.Background(), ProactiveRequest{Key: "k", Kind: persona.KindNight})
	if !res.Fallback || !errors.Is(res.Err, llm.ErrNotConfigured) {
		t.Fatalf("result = %+v", res)
	}
	if !contains(g.Persona().Fallbacks[persona.KindNight], res.Text) {
		t.Errorf("Text = %q is not a night fallback", res.Text)
	}
}

func TestProactiveRecapDigest(t *testing.T) {
	backend := &mockLLM{reply: "итоги"}
	g, _ := newGenerator(backend, nil)
	g.maxChars = 40

	at := time.Date(2026, 10, 14, 21, 0, 0, 0, time.UTC)
	entries := []memory.Entry{
		{Author: "Вася", Text: "самое первое сообщение дня", At: at},
		{Author: "Лёха", Text: "устал", At: at},
		{Author: "Фан", Text: "держись", At: at},
	}
	g.Proactive(context.Background(), ProactiveRequest{Key: "k", Kind: persona.KindRecap, Now: at, Digest: entries})

	instruction := backend.last(t).Messages[0].Content
	if strings.Contains(instruction, "самое первое") {
		t.Errorf("oldest entry should be truncated: %q", instruction)
	}
	if !strings.Contains(instruction, "Лёха: устал\nФан: держись") {
		t.Errorf("recent entries missing: %q", instruction)
	}

	g.Proactive(context.Background(), ProactiveRequest{Key: "k", Kind: persona.KindRecap, Now: at})
	last := backend.last(t)
	if got := last.Messages[len(last.Messages)-1].Content; !strings.Contains(got, g.Persona().QuietDay) {
		t.Errorf("empty day instruction = %q", got)
	}
}

func TestDigest(t *testing.T) {
	entries := []memory.Entry{
		{Author: "a", Text: "one"},
		{Author: "", Text: "two\nlines"},
		{Author: "c", Text: "три"},
	}
	tests := []struct {
		name string
		max  int
		want string
	}{
		{"unbounded", 0, "a: one\n?: two lines\nc: три"},
		{"fits", 100, "a: one\n?: two lines\nc: три"},
		{"cut at line start", 19, "?: two lines\nc: три"},
		{"cut mid line", 10, "c: три"},
		{"cut inside last line", 4, " три"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Digest(entries, tt.max)
			if got != tt.want {
				t.Errorf("Digest(%d) = %q, want %q", tt.max, got, tt.want)
			}
			if tt.max > 0 && len([]rune(got)) > tt.max {
				t.Errorf("Digest(%d) has %d runes", tt.max, len([]rune(got)))
			}
		})
	}
	if Digest(nil, 10) != "" {
		t.Error("empty log should give empty digest")
	}
}

func TestConcurrentRepliesSameKey(t *testing.T) {
	backend := &mockLLM{reply: "ok"}
	g, store := newGenerator(backend, nil)
	store = memory.NewStore(200)
	g.store = store
	r := newResolver()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.Reply(context.Background(), requestFor(r, groupMessage(primaryID, "Алексей", fmt.Sprintf("msg %d", i))))
		}(i)
	}
	wg.Wait()

	turns := store.Read(bus.SessionKey("telegram", targetChat))
	if len(turns) != 40 {
		t.Fatalf("history len = %d, want 40", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != memory.RoleUser || turns[i+1].Role != memory.RoleAssistant {
			t.Fatalf("turns %d/%d interleaved: %q %q", i, i+1, turns[i].Role, turns[i+1].Role)
		}
	}
	for i, req := range backend.requests {
		if len(req.Messages)%2 != 1 {
			t.Errorf("request %d built from a partial history (%d messages)", i, len(req.Messages))
		}
	}
}
