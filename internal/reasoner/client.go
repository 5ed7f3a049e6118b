package reasoner

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/repocard/internal/cost"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/resilience"
)

// Config bounds each invocation.
type Config struct {
	// CallTimeout bounds a single attempt. Zero means no timeout.
	CallTimeout       time.Duration
	RequestsPerMinute float64
	Retry             resilience.RetryConfig
}

// Client runs a request down the effort ladder. Each rung waits on the rate
// limiter, passes the circuit breaker and retries transient failures.
type Client struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	costs    *cost.Calculator
	log      *zap.Logger

	mu    sync.Mutex
	usage model.UsageSummary
}

// NewClient wires a provider with the invocation policy. breaker, costs
// and log may be nil.
func NewClient(p Provider, cfg Config, breaker *resilience.CircuitBreaker, costs *cost.Calculator, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{provider: p, cfg: cfg, breaker: breaker, costs: costs, log: log}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	if c.cfg.Retry.OnRetry == nil {
		c.cfg.Retry.OnRetry = resilience.RetryLogger(log, p.Name(), "complete")
	}
	return c
}

// Provider returns the underlying provider name.
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Invoke tries req at its effort tier and then one tier lower. It returns
// the response together with the tier that produced it.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, Effort, error) {
	var lastErr error
	for _, effort := range Ladder(req.Effort) {
		rung := req
		rung.Effort = effort

		resp, err := c.attempt(ctx, rung)
		if err == nil {
			c.record(rung, resp)
			return resp, effort, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.log.Warn("reasoner: invocation failed",
			zap.String("provider", c.provider.Name()),
			zap.String("phase", req.Phase),
			zap.String("effort", string(effort)),
			zap.Error(err),
		)
	}
	return nil, "", eris.Wrapf(lastErr, "reasoner: %s exhausted effort ladder", req.Phase)
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	return resilience.DoVal(ctx, c.cfg.Retry, func(ctx context.Context) (*Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "reasoner: rate limit wait")
			}
		}
		call := func(ctx context.Context) (*Response, error) {
			if c.cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
				defer cancel()
			}
			return c.provider.Complete(ctx, req)
		}
		if c.breaker == nil {
			return call(ctx)
		}
		return resilience.ExecuteVal(ctx, c.breaker, call)
	})
}

func (c *Client) record(req Request, resp *Response) {
	usd := c.costs.Estimate(c.provider.Name(), resp.Model, cost.Usage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheWriteTokens,
		CacheReadTokens:  resp.Usage.CacheReadTokens,
	})
	c.log.Info("cost attribution",
		zap.String("provider", c.provider.Name()),
		zap.String("model", resp.Model),
		zap.String("phase", req.Phase),
		zap.String("effort", string(req.Effort)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Int64("cache_write_tokens", resp.Usage.CacheWriteTokens),
		zap.Int64("cache_read_tokens", resp.Usage.CacheReadTokens),
		zap.Float64("estimated_cost_usd", usd),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Calls++
	c.usage.InputTokens += resp.Usage.InputTokens
	c.usage.OutputTokens += resp.Usage.OutputTokens
	c.usage.CacheWriteTokens += resp.Usage.CacheWriteTokens
	c.usage.CacheReadTokens += resp.Usage.CacheReadTokens
	c.usage.EstimatedCostUSD += usd
}

// Usage returns the accumulated token usage.
func (c *Client) Usage() model.UsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}
