// Package cost converts reasoning-service token usage into estimated USD.
package cost

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates holds pricing keyed by provider then model.
type Rates map[string]map[string]ModelRate

// Usage is the token counters of one call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Calculator computes costs for reasoning calls.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate looks up the rate for a provider and model.
func (c *Calculator) Rate(provider, model string) (ModelRate, bool) {
	if c == nil {
		return ModelRate{}, false
	}
	models, ok := c.rates[provider]
	if !ok {
		return ModelRate{}, false
	}
	rate, ok := models[model]
	return rate, ok
}

// Estimate returns the USD cost of a call. Unknown models cost zero.
func (c *Calculator) Estimate(provider, model string, u Usage) float64 {
	rate, ok := c.Rate(provider, model)
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) / 1e6 * rate.Input
	out := float64(u.OutputTokens) / 1e6 * rate.Output
	cw := float64(u.CacheWriteTokens) / 1e6 * rate.Input * rate.CacheWriteMul
	cr := float64(u.CacheReadTokens) / 1e6 * rate.Input * rate.CacheReadMul
	return in + out + cw + cr
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"anthropic": {
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-opus-4-6":            {Input: 5.00, Output: 25.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		"openai": {
			"gpt-5":      {Input: 1.25, Output: 10.00, CacheReadMul: 0.1},
			"gpt-5-mini": {Input: 0.25, Output: 2.00, CacheReadMul: 0.1},
		},
	}
}
