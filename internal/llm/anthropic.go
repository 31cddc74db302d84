package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmodel "github.com/cexll/agentsdk-go/pkg/model"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/banterbot/internal/config"
)

type completer interface {
	Complete(ctx context.Context, req sdkmodel.Request) (*sdkmodel.Response, error)
}

type anthropicClient struct {
	model   func(ctx context.Context) (completer, error)
	timeout time.Duration
	log     zerolog.Logger
}

// NewAnthropic returns a client backed by the agentsdk-go anthropic model.
func NewAnthropic(cfg config.LLMConfig, log zerolog.Logger) Client {
	provider := &sdkmodel.AnthropicProvider{
		APIKey:    strings.TrimSpace(cfg.APIKey),
		BaseURL:   strings.TrimSpace(cfg.BaseURL),
		ModelName: cfg.Model,
		MaxTokens: cfg.MaxTokens,
		CacheTTL:  time.Hour,
	}
	return &anthropicClient{
		model: func(ctx context.Context) (completer, error) {
			return provider.Model(ctx)
		},
		timeout: cfg.Timeout,
		log:     log.With().Str("provider", "anthropic").Logger(),
	}
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	mdl, err := c.model(ctx)
	if err != nil {
		return "", fmt.Errorf("init anthropic model: %w", err)
	}

	msgs := make([]sdkmodel.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, sdkmodel.Message{Role: m.Role, Content: m.Content})
	}
	temperature := req.Temperature

	resp, err := mdl.Complete(ctx, sdkmodel.Request{
		System:      req.System,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	c.log.Debug().Str("stop_reason", resp.StopReason).Msg("anthropic completion done")
	return finish(resp.Message.Content)
}
