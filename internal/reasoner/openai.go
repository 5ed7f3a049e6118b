package reasoner

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/pkg/chatcompletion"
)

// OpenAIProvider speaks the OpenAI-compatible chat completions dialect.
// Effort is passed through as reasoning_effort.
type OpenAIProvider struct {
	client chatcompletion.Client
	model  string
}

// NewOpenAIProvider creates the chat completions adapter.
func NewOpenAIProvider(client chatcompletion.Client, model string) *OpenAIProvider {
	return &OpenAIProvider{client: client, model: model}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]chatcompletion.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatcompletion.Message{Role: string(m.Role), Content: m.Content})
	}

	creq := chatcompletion.Request{
		Model:               p.model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxOutputTokens,
		ReasoningEffort:     string(req.Effort),
	}
	if req.Structured {
		creq.ResponseFormat = chatcompletion.JSONObject
	}

	resp, err := p.client.ChatCompletion(ctx, creq)
	if err != nil {
		var se *chatcompletion.StatusError
		if errors.As(err, &se) {
			return nil, statusError(err, se.StatusCode, se.RetryAfter)
		}
		return nil, err
	}

	content, ok := resp.Content()
	if !ok {
		return nil, &ParseError{Kind: ParseEmpty, Err: eris.New("reasoner: response has no choices")}
	}
	return &Response{
		Content: content,
		Model:   resp.Model,
		Usage: Usage{
			InputTokens:     resp.Usage.PromptTokens - resp.Usage.PromptTokensDetails.CachedTokens,
			OutputTokens:    resp.Usage.CompletionTokens,
			CacheReadTokens: resp.Usage.PromptTokensDetails.CachedTokens,
		},
	}, nil
}
