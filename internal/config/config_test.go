package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Reasoner.Provider)
	assert.Equal(t, "medium", cfg.Reasoner.Effort)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Reasoner.MediumModel)
	assert.Equal(t, int64(8192), cfg.Reasoner.MaxOutputTokens)
	assert.Equal(t, 1200, cfg.Reasoner.CallTimeoutSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.InDelta(t, 0.65, cfg.Pipeline.MinConfidence, 0.001)
	assert.Equal(t, 2, cfg.Pipeline.PassAttempts)
	assert.Contains(t, cfg.Pipeline.DeterministicOnly, "$.changeHistory")
	assert.Equal(t, 6000, cfg.Pipeline.Verify.BatchTokenBudget)
	assert.Equal(t, 40000, cfg.Pipeline.Verify.TargetTokensPerMinute)
	assert.Equal(t, 5, cfg.Apply.MaxIterations)
	assert.Equal(t, "schema/record.schema.json", cfg.Apply.SchemaPath)
	assert.Equal(t, ".repocard", cfg.Record.Root)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 168, cfg.Cache.MaxAgeHours)
	assert.Equal(t, 200, cfg.Cache.MaxEntries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
reasoner:
  provider: openai
  base_url: http://localhost:11434/v1
  medium_model: qwen3
store:
  driver: postgres
  database_url: postgres://localhost/repocard
log:
  level: debug
  format: console
pipeline:
  verify:
    invalidity_keywords: [wrong, stale]
pricing:
  openai:
    qwen3:
      input: 0.1
      output: 0.2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Reasoner.Provider)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Reasoner.BaseURL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"wrong", "stale"}, cfg.Pipeline.Verify.InvalidityKeywords)
	assert.InDelta(t, 0.2, cfg.Pricing.OpenAI["qwen3"].Output, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Apply.MaxIterations)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("REPOCARD_STORE_DRIVER", "postgres")
	t.Setenv("REPOCARD_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("REPOCARD_REASONER_KEY", "sk-test")
	t.Setenv("REPOCARD_APPLY_MAX_ITERATIONS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Reasoner.Key)
	assert.Equal(t, 3, cfg.Apply.MaxIterations)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Reasoner.Provider = "anthropic"
	cfg.Reasoner.Effort = "medium"
	cfg.Pipeline.MinConfidence = 0.65
	cfg.Pipeline.PassAttempts = 2
	cfg.Apply.MaxIterations = 5
	cfg.Apply.SchemaPath = "schema.json"
	cfg.Record.Root = ".repocard"
	cfg.Record.DocumentPath = "repocard.json"
	cfg.Record.IndexPath = "repocard.anchors.json"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "repocard.db"
	cfg.Log.Format = "json"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"deterministic only", func(c *Config) { c.Reasoner.Provider = "none" }, ""},
		{"unknown provider", func(c *Config) { c.Reasoner.Provider = "bard" }, "reasoner"},
		{"unknown effort", func(c *Config) { c.Reasoner.Effort = "max" }, "reasoner"},
		{"openai needs model", func(c *Config) { c.Reasoner.Provider = "openai" }, "reasoner"},
		{"confidence above one", func(c *Config) { c.Pipeline.MinConfidence = 1.5 }, "pipeline"},
		{"negative sample", func(c *Config) { c.Pipeline.Verify.SampleSize = -1 }, "verify"},
		{"no iterations", func(c *Config) { c.Apply.MaxIterations = 0 }, "apply"},
		{"no schema", func(c *Config) { c.Apply.SchemaPath = "" }, "apply"},
		{"no record root", func(c *Config) { c.Record.Root = "" }, "record"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store"},
		{"no dsn", func(c *Config) { c.Store.DatabaseURL = "" }, "store"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config: "+tt.wantErr)
		})
	}
}
