package resilience

import (
	"time"

	"github.com/sells-group/repocard/internal/config"
)

// RetryFor maps the retry section of the repocard config onto a
// RetryConfig. Unset or non-positive fields keep DefaultRetryConfig; the
// jitter fraction is clamped to [0, 1].
func RetryFor(c config.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	out.MaxAttempts = positiveOr(c.MaxAttempts, out.MaxAttempts)
	out.InitialBackoff = millisOr(c.InitialBackoffMs, out.InitialBackoff)
	out.MaxBackoff = millisOr(c.MaxBackoffMs, out.MaxBackoff)
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	if c.Multiplier >= 1 {
		out.Multiplier = c.Multiplier
	}
	out.JitterFraction = min(max(c.JitterFraction, 0), 1)
	return out
}

// BreakerFor maps the circuit section of the repocard config onto a
// CircuitBreakerConfig that notifies onChange on every transition.
func BreakerFor(c config.CircuitConfig, onChange func(from, to CircuitState)) CircuitBreakerConfig {
	out := DefaultCircuitBreakerConfig()
	out.FailureThreshold = positiveOr(c.FailureThreshold, out.FailureThreshold)
	if c.ResetTimeoutSecs > 0 {
		out.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	out.OnStateChange = onChange
	return out
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
