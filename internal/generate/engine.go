package generate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/eworthing/uniqgen/internal/config"
	"github.com/eworthing/uniqgen/internal/llm"
)

// AttemptRequest describes one resilient call to the service: the prompt,
// the decoding profile, and the starting knobs the retry ladder adapts.
type AttemptRequest struct {
	Prompt      string
	Profile     Profile
	Seed        uint64
	Temperature float32
	MaxTokens   int32
	Unguided    bool
}

// Engine executes one resilient service call with an internal retry
// ladder for recoverable failures. Remediation escalates in a fixed
// order across successive retries — grow maxTokens, then recreate the
// session and rotate the seed, then lower the temperature — so repeated
// runs of the same request replay the same ladder.
type Engine struct {
	svc llm.Service
	cfg config.GenerationConfig
	log *zap.Logger

	attemptIndex int
}

// NewEngine creates an attempt engine over svc.
func NewEngine(svc llm.Service, cfg config.GenerationConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{svc: svc, cfg: cfg, log: log}
}

// Attempt runs the retry ladder for one logical generation request. It
// returns the parsed items on success, or a terminal error after a fatal
// failure or ladder exhaustion. Every service call made — successful or
// not — contributes one AttemptMetrics record.
func (e *Engine) Attempt(ctx context.Context, req AttemptRequest) ([]string, []AttemptMetrics, error) {
	seed := req.Seed
	temperature := req.Temperature
	maxTokens := req.MaxTokens
	recreated := false

	var metrics []AttemptMetrics
	var lastErr error

	for failures := 0; ; {
		contract := llm.ContractItems
		if req.Unguided {
			contract = llm.ContractFreeText
		}

		start := time.Now()
		items, err := e.callOnce(ctx, req.Prompt, req.Profile.Options(seed, temperature, maxTokens), contract)
		elapsed := time.Since(start).Seconds()

		e.attemptIndex++
		m := AttemptMetrics{
			AttemptIndex:     e.attemptIndex,
			Seed:             seed,
			Sampling:         req.Profile.String(),
			Temperature:      temperature,
			SessionRecreated: recreated,
			ElapsedSeconds:   elapsed,
		}
		if err == nil {
			n := len(items)
			m.ItemsReturned = &n
		}
		metrics = append(metrics, m)

		if err == nil {
			return items, metrics, nil
		}

		if ctx.Err() != nil {
			// Cancellation discards the in-flight call; nothing to retry.
			return nil, metrics, ctx.Err()
		}
		if !llm.Recoverable(err) {
			// Fatal failures reproduce on retry; propagate immediately.
			return nil, metrics, err
		}

		lastErr = err
		failures++
		if failures > e.cfg.MaxRetries {
			return nil, metrics, fmt.Errorf("attempt exhausted %d retries: %w", e.cfg.MaxRetries, lastErr)
		}

		switch failures {
		case 1:
			maxTokens = escalateTokens(maxTokens, e.cfg.MaxTokensEscalation, e.cfg.MaxTokensCap)
		case 2:
			e.svc.ResetSession()
			recreated = true
			seed = nextSeed(e.cfg.SeedRing, seed)
		default:
			temperature = e.cfg.RetryTemperature
		}

		e.log.Debug("attempt retrying after recoverable failure",
			zap.Int("failures", failures),
			zap.Uint64("seed", seed),
			zap.Int32("max_tokens", maxTokens),
			zap.Float32("temperature", temperature),
			zap.Error(err))
	}
}

// callOnce performs a single service call and normalizes the result into
// a string slice, applying the tolerant free-text parser in unguided mode.
func (e *Engine) callOnce(ctx context.Context, prompt string, opts llm.Options, contract llm.Contract) ([]string, error) {
	res, err := e.svc.Call(ctx, prompt, opts, contract)
	if err != nil {
		return nil, err
	}
	if contract == llm.ContractItems {
		return res.Items, nil
	}
	return ParseItems(res.Text)
}

// escalateTokens grows maxTokens by the configured factor without
// exceeding the cap (and never shrinking a budget already above it).
func escalateTokens(current int32, factor float64, limit int32) int32 {
	next := int32(math.Ceil(float64(current) * factor))
	if next > limit {
		if current >= limit {
			return current
		}
		return limit
	}
	return next
}

// nextSeed returns the value after seed in the fixed deterministic ring,
// or the ring's first entry when seed is not in it.
func nextSeed(ring []uint64, seed uint64) uint64 {
	for i, s := range ring {
		if s == seed {
			return ring[(i+1)%len(ring)]
		}
	}
	return ring[0]
}
