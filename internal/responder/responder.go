// Package responder composes the bot's replies: it picks the message kind,
// assembles the role text and history, calls the generation backend and
// falls back to canned text when the backend fails.
package responder

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/addressing"
	"github.com/stellarlinkco/banterbot/internal/llm"
	"github.com/stellarlinkco/banterbot/internal/memory"
	"github.com/stellarlinkco/banterbot/internal/persona"
	"github.com/stellarlinkco/banterbot/internal/weather"
)

// Request is one inbound message that the resolver decided to answer.
type Request struct {
	Key        string
	Mode       addressing.Mode
	SenderID   int64
	SenderName string
	Text       string
}

// ProactiveRequest is a scheduled message with no inbound trigger.
type ProactiveRequest struct {
	Key    string
	Kind   persona.Kind
	Now    time.Time
	Digest []memory.Entry
}

type Result struct {
	Text     string
	Kind     persona.Kind
	Fallback bool
	// Err is the backend error that caused the fallback, if any.
	Err error
}

type Options struct {
	Persona  *persona.Persona
	Store    *memory.Store
	LLM      llm.Client
	Resolver *addressing.Resolver
	// Weather is optional; nil or an empty WeatherLocation omits weather clauses.
	Weather         weather.Provider
	WeatherLocation string
	SubjectName     string
	RecapMaxChars   int
	Location        *time.Location
	// Rand returns an index in [0,n) for fallback selection.
	Rand   func(n int) int
	Logger zerolog.Logger
}

type Generator struct {
	persona  *persona.Persona
	store    *memory.Store
	llm      llm.Client
	resolver *addressing.Resolver
	weather  weather.Provider
	location string
	subject  string
	maxChars int
	loc      *time.Location
	rand     func(n int) int
	log      zerolog.Logger
	now      func() time.Time
}

func New(opts Options) *Generator {
	g := &Generator{
		persona:  opts.Persona,
		store:    opts.Store,
		llm:      opts.LLM,
		resolver: opts.Resolver,
		weather:  opts.Weather,
		location: strings.TrimSpace(opts.WeatherLocation),
		subject:  opts.SubjectName,
		maxChars: opts.RecapMaxChars,
		loc:      opts.Location,
		rand:     opts.Rand,
		log:      opts.Logger,
		now:      time.Now,
	}
	if g.persona == nil {
		g.persona = persona.Default()
	}
	if g.llm == nil {
		g.llm = llm.Disabled{}
	}
	if g.resolver == nil {
		g.resolver = addressing.NewResolver(addressing.Options{})
	}
	if g.loc == nil {
		g.loc = time.Local
	}
	if g.rand == nil {
		g.rand = rand.IntN
	}
	return g
}

func (g *Generator) Persona() *persona.Persona {
	return g.persona
}

// Reply answers a live message. It never fails: a backend error yields a
// fallback from the kind's pool. Both the user turn and the reply are
// appended to the conversation history under the key's lock.
func (g *Generator) Reply(ctx context.Context, req Request) Result {
	kind := Classify(req.Mode, req.Text)

	var conditions string
	if kind == persona.KindWeather {
		conditions = g.currentWeather(ctx)
	}
	system := g.roleText(g.involvesSubject(req), req.Mode.String(), conditions)
	style := g.persona.Style(kind)
	userTurn := g.provenance(req) + " " + strings.TrimSpace(req.Text)

	unlock := g.store.Lock(req.Key)
	defer unlock()

	messages := g.history(req.Key)
	messages = append(messages, llm.Message{Role: string(memory.RoleUser), Content: userTurn})

	res := g.complete(ctx, kind, llm.Request{
		System:      system,
		Messages:    messages,
		MaxTokens:   style.MaxTokens,
		Temperature: style.Temperature,
	})
	g.store.Append(req.Key, memory.RoleUser, userTurn)
	g.store.Append(req.Key, memory.RoleAssistant, res.Text)
	return res
}

// Proactive produces a scheduled message for the chat at req.Key. Only the
// resulting assistant turn is recorded in the history.
func (g *Generator) Proactive(ctx context.Context, req ProactiveRequest) Result {
	now := req.Now
	if now.IsZero() {
		now = g.now()
	}
	now = now.In(g.loc)

	tmpl := g.persona.Prompts[req.Kind]
	vars := persona.Vars{
		Subject: g.subject,
		Weekday: g.persona.Weekday(now.Weekday()),
		Daypart: g.persona.Daypart(now.Hour()),
	}
	if strings.Contains(tmpl, "{weather") {
		vars.Weather = g.currentWeather(ctx)
	}
	if req.Kind == persona.KindRecap {
		vars.Digest = Digest(req.Digest, g.maxChars)
		if vars.Digest == "" {
			vars.Digest = g.persona.QuietDay
		}
	}
	instruction := g.persona.Render(tmpl, vars)
	style := g.persona.Style(req.Kind)

	unlock := g.store.Lock(req.Key)
	defer unlock()

	messages := g.history(req.Key)
	messages = append(messages, llm.Message{Role: string(memory.RoleUser), Content: instruction})

	res := g.complete(ctx, req.Kind, llm.Request{
		System:      g.roleText(true, "", ""),
		Messages:    messages,
		MaxTokens:   style.MaxTokens,
		Temperature: style.Temperature,
	})
	g.store.Append(req.Key, memory.RoleAssistant, res.Text)
	return res
}

func (g *Generator) complete(ctx context.Context, kind persona.Kind, req llm.Request) Result {
	text, err := g.llm.Complete(ctx, req)
	if err == nil && strings.TrimSpace(text) != "" {
		return Result{Text: text, Kind: kind}
	}
	if err == nil {
		err = llm.ErrEmptyResponse
	}
	g.log.Warn().Err(err).Str("kind", string(kind)).Msg("generation failed, using fallback")
	return Result{
		Text:     g.persona.Fallback(kind, g.rand),
		Kind:     kind,
		Fallback: true,
		Err:      err,
	}
}

// involvesSubject reports whether the biography block belongs in the role
// text: the primary subject is speaking or someone is talking about them.
// A supporter let through with the content gate off does not qualify on
// mode alone.
func (g *Generator) involvesSubject(req Request) bool {
	switch {
	case req.Mode == addressing.RespondAsPrimarySubject,
		g.resolver.IsPrimary(req.SenderID),
		g.resolver.MentionsPrimary(req.Text):
		return true
	}
	return false
}

func (g *Generator) roleText(withBiography bool, tone, conditions string) string {
	vars := persona.Vars{Subject: g.subject}
	parts := []string{g.persona.Render(g.persona.Core, vars)}
	if withBiography && g.persona.Biography != "" {
		parts = append(parts, g.persona.Render(g.persona.Biography, vars))
	}
	if t := g.persona.Tones[tone]; t != "" {
		parts = append(parts, g.persona.Render(t, vars))
	}
	if conditions != "" {
		vars.Weather = conditions
		if clause := g.persona.Render("{weather_clause}", vars); clause != "" {
			parts = append(parts, clause)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (g *Generator) provenance(req Request) string {
	vars := persona.Vars{Subject: g.subject, Sender: req.SenderName}
	if g.resolver.IsPrimary(req.SenderID) {
		return g.persona.Render(g.persona.Tags.Primary, vars)
	}
	if vars.Sender == "" {
		vars.Sender = "?"
	}
	return g.persona.Render(g.persona.Tags.Other, vars)
}

func (g *Generator) history(key string) []llm.Message {
	turns := g.store.Read(key)
	out := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		out = append(out, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	return out
}

// currentWeather returns a summary or "" when the provider is absent or fails.
func (g *Generator) currentWeather(ctx context.Context) string {
	if g.weather == nil || g.location == "" {
		return ""
	}
	c, err := g.weather.Current(ctx, g.location)
	if err != nil {
		g.log.Warn().Err(err).Str("location", g.location).Msg("weather lookup failed")
		return ""
	}
	return c.Summary()
}

// Digest renders log entries as "author: text" lines and keeps at most
// maxChars runes from the end. A line cut by the limit is dropped whole.
func Digest(entries []memory.Entry, maxChars int) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		author := e.Author
		if author == "" {
			author = "?"
		}
		sb.WriteString(author)
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(e.Text, "\n", " "))
	}
	return truncateFront(sb.String(), maxChars)
}

func truncateFront(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	skip := utf8.RuneCountInString(s) - maxChars
	if skip <= 0 {
		return s
	}
	cut := 0
	for i := range s {
		if skip == 0 {
			cut = i
			break
		}
		skip--
	}
	if s[cut-1] == '\n' {
		return s[cut:]
	}
	tail := s[cut:]
	if nl := strings.IndexByte(tail, '\n'); nl >= 0 && nl < len(tail)-1 {
		return tail[nl+1:]
	}
	return tail
}
