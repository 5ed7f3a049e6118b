package reasoner

import (
	"context"
	"errors"

	"github.com/sells-group/repocard/pkg/anthropic"
)

// structuredInstruction is appended to the system prompt when the
// Messages dialect is asked for structured output.
const structuredInstruction = "Respond with exactly one JSON object and no surrounding prose."

// DefaultAnthropicModels maps effort tiers to models.
func DefaultAnthropicModels() map[Effort]string {
	return map[Effort]string{
		EffortHigh:   "claude-opus-4-6",
		EffortMedium: "claude-sonnet-4-5-20250929",
		EffortLow:    "claude-haiku-4-5-20251001",
	}
}

// AnthropicProvider speaks the Anthropic Messages dialect. Effort selects
// the model tier.
type AnthropicProvider struct {
	client   anthropic.Client
	models   map[Effort]string
	cacheTTL string
}

// NewAnthropicProvider creates the Messages adapter. Missing tiers fall
// back to DefaultAnthropicModels.
func NewAnthropicProvider(client anthropic.Client, models map[Effort]string) *AnthropicProvider {
	merged := DefaultAnthropicModels()
	for k, v := range models {
		if v != "" {
			merged[k] = v
		}
	}
	return &AnthropicProvider{client: client, models: merged, cacheTTL: "5m"}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the model used for an effort tier.
func (p *AnthropicProvider) Model(e Effort) string {
	if m, ok := p.models[e]; ok {
		return m
	}
	return p.models[EffortMedium]
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	system, rest := splitSystem(req.Messages)
	if req.Structured {
		if system != "" {
			system += "\n\n"
		}
		system += structuredInstruction
	}

	msgs := make([]anthropic.Message, 0, len(rest))
	for _, m := range rest {
		msgs = append(msgs, anthropic.Message{Role: string(m.Role), Content: m.Content})
	}

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.Model(req.Effort),
		MaxTokens: req.MaxOutputTokens,
		System:    anthropic.BuildCachedSystemBlocks(system, p.cacheTTL),
		Messages:  msgs,
	})
	if err != nil {
		var se *anthropic.StatusError
		if errors.As(err, &se) {
			return nil, statusError(err, se.StatusCode, se.RetryAfter)
		}
		return nil, err
	}

	return &Response{
		Content: resp.Text(),
		Model:   resp.Model,
		Usage: Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		},
	}, nil
}
