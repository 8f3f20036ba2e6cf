// Package config holds all uniqgen configuration. Every empirically
// tuned generation constant lives here as a field with a default, so
// behavior is deterministic per instance and testable without ambient
// global state. A Config is constructed once and passed into the
// generator; nothing mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all uniqgen configuration.
type Config struct {
	// LLM configures the generative service adapter.
	LLM LLMConfig `yaml:"llm"`

	// Generation configures the unique-list orchestration.
	Generation GenerationConfig `yaml:"generation"`

	// Telemetry configures the per-attempt NDJSON recorder.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configures log verbosity.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generative service.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// GenerationConfig carries the tuning constants of the generation state
// machine. The defaults are empirically tuned, not provably optimal;
// they are exposed here rather than hardcoded so offline sweeps can vary
// them per run.
type GenerationConfig struct {
	// Unguided switches from schema-constrained structured output to
	// free-text generation with tolerant parsing.
	Unguided bool `yaml:"unguided"`

	// PluralTrim enables the plural-stripping stage of key normalization.
	PluralTrim bool `yaml:"plural_trim"`

	// Pass 1 over-generation.
	OverGenFactor       float64 `yaml:"over_gen_factor"`       // target multiplier for pass 1
	ContextBudgetTokens int     `yaml:"context_budget_tokens"` // fixed per-call context budget
	TokensPerItem       int     `yaml:"tokens_per_item"`       // empirical average cost per item
	Pass1Temperature    float32 `yaml:"pass1_temperature"`
	Pass1TopP           float32 `yaml:"pass1_top_p"`

	// Backfill sizing.
	MaxBackfillRounds   int     `yaml:"max_backfill_rounds"`
	GuidedOverRequest   float64 `yaml:"guided_over_request"`
	UnguidedOverRequest float64 `yaml:"unguided_over_request"`
	MinBackfillFraction float64 `yaml:"min_backfill_fraction"`

	// Avoid-list windowing.
	AvoidWindow        int `yaml:"avoid_window"`
	AvoidWindowSlide   int `yaml:"avoid_window_slide"`
	TopDuplicateHints  int `yaml:"top_duplicate_hints"`
	AvoidListMaxTokens int `yaml:"avoid_list_max_tokens"`

	// Attempt retry ladder.
	MaxRetries          int      `yaml:"max_retries"`
	MaxTokensEscalation float64  `yaml:"max_tokens_escalation"`
	MaxTokensCap        int32    `yaml:"max_tokens_cap"`
	RetryTemperature    float32  `yaml:"retry_temperature"`
	SeedRing            []uint64 `yaml:"seed_ring"`

	// Stall handling.
	CircuitBreakerRounds int     `yaml:"circuit_breaker_rounds"`
	StallTemperature     float32 `yaml:"stall_temperature"`
	LastMileMax          int     `yaml:"last_mile_max"`
}

// TelemetryConfig configures the NDJSON attempt log.
type TelemetryConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "60s",
		},
		Generation: GenerationConfig{
			Unguided:   false,
			PluralTrim: true,

			OverGenFactor:       1.6,
			ContextBudgetTokens: 3500,
			TokensPerItem:       7,
			Pass1Temperature:    0.8,
			Pass1TopP:           0.92,

			MaxBackfillRounds:   3,
			GuidedOverRequest:   1.5,
			UnguidedOverRequest: 4.0,
			MinBackfillFraction: 0.4,

			AvoidWindow:        40,
			AvoidWindowSlide:   20,
			TopDuplicateHints:  5,
			AvoidListMaxTokens: 800,

			MaxRetries:          3,
			MaxTokensEscalation: 1.8,
			MaxTokensCap:        512,
			RetryTemperature:    0.7,
			SeedRing:            []uint64{7919, 104729, 1299709, 15485863},

			CircuitBreakerRounds: 2,
			StallTemperature:     1.0,
			LastMileMax:          2,
		},
		Telemetry: TelemetryConfig{
			Path:     "telemetry/attempts.ndjson",
			MaxBytes: 10 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, starting from defaults.
// A missing file is not an error; environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("UNIQGEN_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("UNIQGEN_TELEMETRY"); path != "" {
		c.Telemetry.Path = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY)")
	}
	g := c.Generation
	if g.OverGenFactor < 1.0 {
		return fmt.Errorf("over_gen_factor must be >= 1.0, got %v", g.OverGenFactor)
	}
	if g.TokensPerItem <= 0 {
		return fmt.Errorf("tokens_per_item must be positive, got %d", g.TokensPerItem)
	}
	if g.ContextBudgetTokens <= 0 {
		return fmt.Errorf("context_budget_tokens must be positive, got %d", g.ContextBudgetTokens)
	}
	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", g.MaxRetries)
	}
	if len(g.SeedRing) == 0 {
		return fmt.Errorf("seed_ring must not be empty")
	}
	if g.CircuitBreakerRounds <= 0 {
		return fmt.Errorf("circuit_breaker_rounds must be positive, got %d", g.CircuitBreakerRounds)
	}
	if c.Telemetry.MaxBytes <= 0 {
		return fmt.Errorf("telemetry max_bytes must be positive, got %d", c.Telemetry.MaxBytes)
	}
	return nil
}
