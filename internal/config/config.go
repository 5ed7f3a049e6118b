package config

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Reasoner ReasonerConfig `yaml:"reasoner" mapstructure:"reasoner"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Apply    ApplyConfig    `yaml:"apply" mapstructure:"apply"`
	Record   RecordConfig   `yaml:"record" mapstructure:"record"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Pricing  PricingConfig  `yaml:"pricing" mapstructure:"pricing"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ReasonerConfig selects and bounds the reasoning service.
type ReasonerConfig struct {
	// Provider is "anthropic", "openai" or "none" (deterministic only).
	Provider          string `yaml:"provider" mapstructure:"provider"`
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	HighModel         string `yaml:"high_model" mapstructure:"high_model"`
	MediumModel       string `yaml:"medium_model" mapstructure:"medium_model"`
	LowModel          string `yaml:"low_model" mapstructure:"low_model"`
	Effort            string `yaml:"effort" mapstructure:"effort"`
	MaxOutputTokens   int64  `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	CallTimeoutSecs   int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// RetryConfig configures transient-failure retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the reasoning-service circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PipelineConfig configures the generate passes.
type PipelineConfig struct {
	MinConfidence     float64      `yaml:"min_confidence" mapstructure:"min_confidence"`
	PassAttempts      int          `yaml:"pass_attempts" mapstructure:"pass_attempts"`
	DeterministicOnly []string     `yaml:"deterministic_only" mapstructure:"deterministic_only"`
	Verify            VerifyConfig `yaml:"verify" mapstructure:"verify"`
}

// VerifyConfig configures the verification pass.
type VerifyConfig struct {
	SampleSize            int      `yaml:"sample_size" mapstructure:"sample_size"`
	BatchTokenBudget      int      `yaml:"batch_token_budget" mapstructure:"batch_token_budget"`
	TargetTokensPerMinute int      `yaml:"target_tokens_per_minute" mapstructure:"target_tokens_per_minute"`
	AbsoluteFloor         float64  `yaml:"absolute_floor" mapstructure:"absolute_floor"`
	InvalidityKeywords    []string `yaml:"invalidity_keywords" mapstructure:"invalidity_keywords"`
}

// ApplyConfig configures the apply engine.
type ApplyConfig struct {
	MaxIterations int      `yaml:"max_iterations" mapstructure:"max_iterations"`
	SchemaPath    string   `yaml:"schema_path" mapstructure:"schema_path"`
	DenyList      []string `yaml:"deny_list" mapstructure:"deny_list"`
}

// RecordConfig locates on-disk artifacts.
type RecordConfig struct {
	Root         string `yaml:"root" mapstructure:"root"`
	DocumentPath string `yaml:"document_path" mapstructure:"document_path"`
	IndexPath    string `yaml:"index_path" mapstructure:"index_path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig bounds the evidence cache.
type CacheConfig struct {
	MaxAgeHours int `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	MaxEntries  int `yaml:"max_entries" mapstructure:"max_entries"`
}

// PricingConfig holds per-provider pricing rates keyed by model.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REPOCARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("reasoner.provider", "anthropic")
	v.SetDefault("reasoner.key", "")
	v.SetDefault("reasoner.base_url", "")
	v.SetDefault("reasoner.high_model", "claude-opus-4-6")
	v.SetDefault("reasoner.medium_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("reasoner.low_model", "claude-haiku-4-5-20251001")
	v.SetDefault("reasoner.effort", "medium")
	v.SetDefault("reasoner.max_output_tokens", 8192)
	v.SetDefault("reasoner.call_timeout_secs", 1200)
	v.SetDefault("reasoner.requests_per_minute", 50)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("pipeline.min_confidence", 0.65)
	v.SetDefault("pipeline.pass_attempts", 2)
	v.SetDefault("pipeline.deterministic_only", []string{"$.changeHistory", "$.meta.generatedAt", "$.meta.updatedAt", "$.meta.runId"})
	v.SetDefault("pipeline.verify.sample_size", 0)
	v.SetDefault("pipeline.verify.batch_token_budget", 6000)
	v.SetDefault("pipeline.verify.target_tokens_per_minute", 40000)
	v.SetDefault("pipeline.verify.absolute_floor", 0.4)
	v.SetDefault("apply.max_iterations", 5)
	v.SetDefault("apply.schema_path", "schema/record.schema.json")
	v.SetDefault("record.root", ".repocard")
	v.SetDefault("record.document_path", "repocard.json")
	v.SetDefault("record.index_path", "repocard.anchors.json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", ".repocard/repocard.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("cache.max_age_hours", 168)
	v.SetDefault("cache.max_entries", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Reasoner,
		validation.Field(&c.Reasoner.Provider, validation.Required, validation.In("anthropic", "openai", "none")),
		validation.Field(&c.Reasoner.Effort, validation.Required, validation.In("high", "medium", "low")),
		validation.Field(&c.Reasoner.MaxOutputTokens, validation.Min(int64(0))),
		validation.Field(&c.Reasoner.RequestsPerMinute, validation.Min(0)),
		validation.Field(&c.Reasoner.MediumModel, validation.When(c.Reasoner.Provider == "openai", validation.Required)),
	); err != nil {
		return eris.Wrap(err, "config: reasoner")
	}
	if err := validation.ValidateStruct(&c.Pipeline,
		validation.Field(&c.Pipeline.MinConfidence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Pipeline.PassAttempts, validation.Min(1)),
	); err != nil {
		return eris.Wrap(err, "config: pipeline")
	}
	if err := validation.ValidateStruct(&c.Pipeline.Verify,
		validation.Field(&c.Pipeline.Verify.SampleSize, validation.Min(0)),
		validation.Field(&c.Pipeline.Verify.AbsoluteFloor, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return eris.Wrap(err, "config: verify")
	}
	if err := validation.ValidateStruct(&c.Apply,
		validation.Field(&c.Apply.MaxIterations, validation.Required, validation.Min(1)),
		validation.Field(&c.Apply.SchemaPath, validation.Required),
	); err != nil {
		return eris.Wrap(err, "config: apply")
	}
	if err := validation.ValidateStruct(&c.Record,
		validation.Field(&c.Record.Root, validation.Required),
		validation.Field(&c.Record.DocumentPath, validation.Required),
		validation.Field(&c.Record.IndexPath, validation.Required),
	); err != nil {
		return eris.Wrap(err, "config: record")
	}
	if err := validation.ValidateStruct(&c.Store,
		validation.Field(&c.Store.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.Store.DatabaseURL, validation.Required),
	); err != nil {
		return eris.Wrap(err, "config: store")
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Format, validation.In("json", "console")),
	); err != nil {
		return eris.Wrap(err, "config: log")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
