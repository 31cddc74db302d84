// Package llm talks to text-generation backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/config"
)

var (
	ErrNotConfigured = errors.New("generation backend not configured")
	ErrEmptyResponse = errors.New("empty response from generation backend")
)

type Message struct {
	Role    string // "user", "assistant" or "system"
	Content string
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the client selected by cfg.LLM.Provider. Without an API key it
// returns a client that always fails with ErrNotConfigured.
func New(cfg *config.Config, log zerolog.Logger) (Client, error) {
	if !cfg.LLMEnabled() {
		log.Warn().Msg("LLM_API_KEY not set, replies will use fallback text")
		return Disabled{}, nil
	}
	switch cfg.LLM.Provider {
	case "anthropic":
		return NewAnthropic(cfg.LLM, log), nil
	case "openai", "":
		return NewOpenAI(cfg.LLM, log), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}

type Disabled struct{}

func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanReply strips reasoning blocks and quotes wrapping the whole reply.
func CleanReply(reply string) string {
	reply = strings.TrimSpace(thinkBlock.ReplaceAllString(reply, ""))
	if len(reply) >= 2 {
		quotes := []struct{ open, close string }{
			{`"`, `"`}, {"«", "»"}, {"“", "”"},
		}
		for _, q := range quotes {
			if strings.HasPrefix(reply, q.open) && strings.HasSuffix(reply, q.close) && len(reply) > len(q.open)+len(q.close) {
				reply = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(reply, q.open), q.close))
				break
			}
		}
	}
	return reply
}

func finish(raw string) (string, error) {
	out := CleanReply(raw)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
