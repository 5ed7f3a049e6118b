package main

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repocard/internal/apply"
	"github.com/sells-group/repocard/internal/canonical"
	"github.com/sells-group/repocard/internal/config"
	"github.com/sells-group/repocard/internal/cost"
	"github.com/sells-group/repocard/internal/pipeline"
	"github.com/sells-group/repocard/internal/provenance"
	"github.com/sells-group/repocard/internal/reasoner"
	"github.com/sells-group/repocard/internal/record"
	"github.com/sells-group/repocard/internal/resilience"
	"github.com/sells-group/repocard/internal/schema"
	"github.com/sells-group/repocard/internal/store"
	anthropicpkg "github.com/sells-group/repocard/pkg/anthropic"
	"github.com/sells-group/repocard/pkg/chatcompletion"
)

// initInvoker builds the reasoning-service client. A nil invoker runs the
// pipeline on deterministic rules only.
func initInvoker() (pipeline.Invoker, error) {
	rc := cfg.Reasoner
	if rc.Provider == "none" {
		return nil, nil
	}
	if rc.Key == "" {
		zap.L().Warn("reasoner key not configured, running deterministic rules only",
			zap.String("provider", rc.Provider),
		)
		return nil, nil
	}

	var provider reasoner.Provider
	switch rc.Provider {
	case "anthropic":
		var opts []anthropicpkg.Option
		if rc.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(rc.BaseURL))
		}
		provider = reasoner.NewAnthropicProvider(anthropicpkg.NewClient(rc.Key, opts...), anthropicModels())
	case "openai":
		opts := []chatcompletion.Option{chatcompletion.WithModel(rc.MediumModel)}
		if rc.BaseURL != "" {
			opts = append(opts, chatcompletion.WithBaseURL(rc.BaseURL))
		}
		provider = reasoner.NewOpenAIProvider(chatcompletion.NewClient(rc.Key, opts...), rc.MediumModel)
	default:
		return nil, eris.Errorf("unsupported reasoner provider: %s", rc.Provider)
	}

	log := zap.L()
	breaker := resilience.NewCircuitBreaker(resilience.BreakerFor(cfg.Circuit, func(from, to resilience.CircuitState) {
		log.Warn("reasoner circuit breaker state change",
			zap.String("provider", rc.Provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}))

	client := reasoner.NewClient(provider, reasoner.Config{
		CallTimeout:       time.Duration(rc.CallTimeoutSecs) * time.Second,
		RequestsPerMinute: float64(rc.RequestsPerMinute),
		Retry:             resilience.RetryFor(cfg.Retry),
	}, breaker, cost.NewCalculator(pricingRates()), log)
	return client, nil
}

// anthropicModels overlays configured model names on the default tiers.
func anthropicModels() map[reasoner.Effort]string {
	models := reasoner.DefaultAnthropicModels()
	for effort, name := range map[reasoner.Effort]string{
		reasoner.EffortHigh:   cfg.Reasoner.HighModel,
		reasoner.EffortMedium: cfg.Reasoner.MediumModel,
		reasoner.EffortLow:    cfg.Reasoner.LowModel,
	} {
		if name != "" {
			models[effort] = name
		}
	}
	return models
}

// pricingRates overlays configured pricing on the default rate table.
func pricingRates() cost.Rates {
	rates := cost.DefaultRates()
	overlay := func(provider string, models map[string]config.ModelPricing) {
		if len(models) == 0 {
			return
		}
		if rates[provider] == nil {
			rates[provider] = make(map[string]cost.ModelRate)
		}
		for name, p := range models {
			rates[provider][name] = cost.ModelRate{
				Input:         p.Input,
				Output:        p.Output,
				CacheWriteMul: p.CacheWriteMul,
				CacheReadMul:  p.CacheReadMul,
			}
		}
	}
	overlay("anthropic", cfg.Pricing.Anthropic)
	overlay("openai", cfg.Pricing.OpenAI)
	return rates
}

// pipelineConfig maps configuration onto the generate passes.
func pipelineConfig() (pipeline.Config, error) {
	effort, err := reasoner.ParseEffort(cfg.Reasoner.Effort)
	if err != nil {
		return pipeline.Config{}, eris.Wrap(err, "reasoner effort")
	}
	pc := cfg.Pipeline
	return pipeline.Config{
		MinConfidence:     pc.MinConfidence,
		PassAttempts:      pc.PassAttempts,
		DeterministicOnly: pc.DeterministicOnly,
		Effort:            effort,
		MaxOutputTokens:   cfg.Reasoner.MaxOutputTokens,
		Verify: pipeline.VerifyConfig{
			SampleSize:            pc.Verify.SampleSize,
			BatchTokenBudget:      pc.Verify.BatchTokenBudget,
			TargetTokensPerMinute: pc.Verify.TargetTokensPerMinute,
			AbsoluteFloor:         pc.Verify.AbsoluteFloor,
			MinConfidence:         pc.MinConfidence,
			InvalidityKeywords:    pc.Verify.InvalidityKeywords,
			Effort:                effort,
			MaxOutputTokens:       cfg.Reasoner.MaxOutputTokens,
		},
	}, nil
}

// initApplyEngine loads the document schema and wires the apply engine.
// A missing schema is fatal.
func initApplyEngine(log *zap.Logger) (*apply.Engine, *canonical.Normalizer, error) {
	validator, err := schema.Load(cfg.Apply.SchemaPath)
	if err != nil {
		return nil, nil, err
	}
	normalizer := canonical.New()
	deny := append(append([]string{}, provenance.DefaultDenyList...), cfg.Apply.DenyList...)
	index, err := provenance.NewBuilder(deny, normalizer)
	if err != nil {
		return nil, nil, err
	}
	engine := apply.NewEngine(validator, index, normalizer,
		apply.WithMaxIterations(cfg.Apply.MaxIterations),
		apply.WithMinConfidence(cfg.Pipeline.MinConfidence),
		apply.WithLogger(log),
	)
	return engine, normalizer, nil
}

// layout returns the configured artifact layout.
func layout() record.Layout {
	return record.Layout{
		Root:         cfg.Record.Root,
		DocumentPath: cfg.Record.DocumentPath,
		IndexPath:    cfg.Record.IndexPath,
	}
}

// evictPolicy returns the configured evidence cache bounds.
func evictPolicy() store.EvictPolicy {
	return store.EvictPolicy{
		MaxAge:     time.Duration(cfg.Cache.MaxAgeHours) * time.Hour,
		MaxEntries: cfg.Cache.MaxEntries,
	}
}
