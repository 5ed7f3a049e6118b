// Package reasoner talks to the external reasoning service: provider
// dialects, the effort ladder, retry and rate policy, and response decoding.
package reasoner

import (
	"context"
	"time"

	"github.com/sells-group/repocard/internal/resilience"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// Request is a dialect-neutral reasoning call.
type Request struct {
	// Phase labels the call for logging and cost attribution.
	Phase           string
	Messages        []Message
	MaxOutputTokens int64
	Effort          Effort
	// Structured asks the provider for a single JSON object.
	Structured bool
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Response is a dialect-neutral reply.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Provider adapts one backend dialect.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// statusError maps an HTTP status to the resilience taxonomy. Transient
// statuses become retryable and carry any Retry-After delay.
func statusError(err error, status int, retryAfter string) error {
	if !resilience.IsTransientHTTPStatus(status) {
		return err
	}
	return resilience.NewTransientError(err, status).
		WithRetryAfter(resilience.ParseRetryAfter(retryAfter, time.Now()))
}

func splitSystem(msgs []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
