package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.InDelta(t, 1.6, cfg.Generation.OverGenFactor, 1e-9)
	assert.Equal(t, 7, cfg.Generation.TokensPerItem)
	assert.Equal(t, 3500, cfg.Generation.ContextBudgetTokens)
	assert.Equal(t, 40, cfg.Generation.AvoidWindow)
	assert.Equal(t, 20, cfg.Generation.AvoidWindowSlide)
	assert.Equal(t, int64(10<<20), cfg.Telemetry.MaxBytes)
	assert.True(t, cfg.Generation.PluralTrim)
	assert.NotEmpty(t, cfg.Generation.SeedRing)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Generation, cfg.Generation)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uniqgen.yaml")
	body := `
llm:
  api_key: test-key
  model: gemini-2.5-pro
generation:
  unguided: true
  max_backfill_rounds: 5
telemetry:
  path: /tmp/custom.ndjson
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.True(t, cfg.Generation.Unguided)
	assert.Equal(t, 5, cfg.Generation.MaxBackfillRounds)
	assert.Equal(t, "/tmp/custom.ndjson", cfg.Telemetry.Path)
	// Untouched fields keep their defaults.
	assert.InDelta(t, 1.6, cfg.Generation.OverGenFactor, 1e-9)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generation: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("UNIQGEN_MODEL", "env-model")
	t.Setenv("UNIQGEN_TELEMETRY", "/tmp/env.ndjson")

	cfg := Default()
	cfg.applyEnvOverrides()

	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "/tmp/env.ndjson", cfg.Telemetry.Path)
}

func TestGetLLMTimeout(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())

	cfg.LLM.Timeout = "2m"
	assert.Equal(t, 2*time.Minute, cfg.GetLLMTimeout())

	cfg.LLM.Timeout = "garbage"
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.LLM.APIKey = "k"
		return cfg
	}

	assert.NoError(t, valid().Validate())

	t.Run("missing api key", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad over-gen factor", func(t *testing.T) {
		cfg := valid()
		cfg.Generation.OverGenFactor = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty seed ring", func(t *testing.T) {
		cfg := valid()
		cfg.Generation.SeedRing = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero telemetry size", func(t *testing.T) {
		cfg := valid()
		cfg.Telemetry.MaxBytes = 0
		assert.Error(t, cfg.Validate())
	})
}
