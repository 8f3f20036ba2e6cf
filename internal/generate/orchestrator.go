package generate

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/eworthing/uniqgen/internal/budget"
	"github.com/eworthing/uniqgen/internal/canon"
	"github.com/eworthing/uniqgen/internal/config"
	"github.com/eworthing/uniqgen/internal/llm"
)

// Generator orchestrates the generate -> dedup -> backfill -> last-mile
// state machine. A Generator is cheap and reusable; each UniqueList call
// owns its own State and attempt metrics.
type Generator struct {
	engine *Engine
	cfg    config.GenerationConfig
	log    *zap.Logger
}

// New creates a Generator over the given service.
func New(svc llm.Service, cfg config.GenerationConfig, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		engine: NewEngine(svc, cfg, log),
		cfg:    cfg,
		log:    log,
	}
}

// UniqueList returns up to target items for query with pairwise-distinct
// normalization keys, plus run diagnostics. Returning fewer than target
// items is a successful result with FailureReason populated; the only
// error return is a failure of the initial over-generation pass.
func (g *Generator) UniqueList(ctx context.Context, query string, target int, seed uint64) ([]string, Diagnostics, error) {
	if target <= 0 {
		return nil, Diagnostics{}, fmt.Errorf("target count must be positive, got %d", target)
	}

	state := NewState(canon.Options{TrimPlurals: g.cfg.PluralTrim})
	var attempts []AttemptMetrics

	budgetCap := g.budgetCap(query, target)

	// Pass 1: over-generate with a diverse profile so dedup has headroom.
	pass1Count := minInt(ceilMul(target, g.cfg.OverGenFactor), budgetCap)
	state.PassCount = 1

	items, ms, err := g.engine.Attempt(ctx, AttemptRequest{
		Prompt:      passPrompt(query, pass1Count),
		Profile:     TopP(g.cfg.Pass1TopP),
		Seed:        seed,
		Temperature: g.cfg.Pass1Temperature,
		MaxTokens:   g.maxTokensFor(pass1Count),
		Unguided:    g.cfg.Unguided,
	})
	attempts = append(attempts, ms...)
	if err != nil {
		reason := fmt.Sprintf("pass 1 failed: %v", err)
		diag := summarize(state, target, reason, attempts, g.cfg.TopDuplicateHints)
		return nil, diag, fmt.Errorf("pass 1 failed: %w", err)
	}
	state.Absorb(items, target)

	g.log.Debug("pass 1 absorbed",
		zap.Int("requested", pass1Count),
		zap.Int("returned", len(items)),
		zap.Int("accepted", state.Accepted()),
		zap.Int("target", target))

	var roundErr error
	if state.Accepted() < target {
		attempts, roundErr = g.backfill(ctx, query, target, seed, budgetCap, state, attempts)
	}

	failureReason := g.failureReason(ctx, state, target, roundErr)
	diag := summarize(state, target, failureReason, attempts, g.cfg.TopDuplicateHints)
	return state.Items(target), diag, nil
}

// backfill runs bounded supplementary rounds until the target is met, the
// round budget is exhausted, or the circuit breaker trips. Round-level
// errors are absorbed as zero progress, never propagated; the last one is
// returned so the final failure reason can mention it.
func (g *Generator) backfill(ctx context.Context, query string, target int, seed uint64, budgetCap int, state *State, attempts []AttemptMetrics) ([]AttemptMetrics, error) {
	overRequest := g.cfg.GuidedOverRequest
	if g.cfg.Unguided {
		overRequest = g.cfg.UnguidedOverRequest
	}
	minDelta := ceilMul(target, g.cfg.MinBackfillFraction)

	stalls := 0
	var lastErr error
	for round := 1; round <= g.cfg.MaxBackfillRounds && state.Accepted() < target; round++ {
		if ctx.Err() != nil {
			break
		}

		state.BackfillRounds = round
		state.PassCount++

		deltaNeed := target - state.Accepted()
		delta := clampInt(ceilMul(deltaNeed, overRequest), minDelta, budgetCap)

		window := avoidWindow(state.SeenKeys(), round, g.cfg.AvoidWindow, g.cfg.AvoidWindowSlide)
		hints := state.TopDuplicates(g.cfg.TopDuplicateHints)
		avoid := mergeHints(window, hints)
		roundSeed := seed + uint64(round)

		added, err := g.backfillCall(ctx, backfillCallArgs{
			prompt:      backfillPrompt(query, delta, avoid, hints, g.cfg.AvoidListMaxTokens),
			seed:        roundSeed,
			temperature: g.cfg.Pass1Temperature,
			count:       delta,
		}, state, target, &attempts)
		if err != nil {
			lastErr = err
		}

		// One same-round adaptive retry: hotter, larger, leaning on the
		// most frequent duplicates before writing the round off.
		if added == 0 && state.Accepted() < target && ctx.Err() == nil {
			retryDelta := clampInt(delta*2, delta, budgetCap)
			retryAdded, retryErr := g.backfillCall(ctx, backfillCallArgs{
				prompt:      backfillPrompt(query, retryDelta, avoid, hints, g.cfg.AvoidListMaxTokens),
				seed:        roundSeed,
				temperature: g.cfg.StallTemperature,
				count:       retryDelta,
			}, state, target, &attempts)
			added += retryAdded
			if retryErr != nil {
				lastErr = retryErr
			}
		}

		if added == 0 {
			stalls++
		} else {
			stalls = 0
		}
		if stalls >= g.cfg.CircuitBreakerRounds {
			state.CircuitBreakerTriggered = true
			g.log.Warn("backfill circuit breaker triggered",
				zap.Int("round", round),
				zap.Int("accepted", state.Accepted()),
				zap.Int("target", target))
			break
		}

		// A 1-2 item gap closes more reliably with a deterministic ask
		// for the exact count than with another sampled batch.
		shortfall := target - state.Accepted()
		if shortfall > 0 && shortfall <= g.cfg.LastMileMax && ctx.Err() == nil {
			items, ms, err := g.engine.Attempt(ctx, AttemptRequest{
				Prompt:    lastMilePrompt(query, shortfall, avoid, g.cfg.AvoidListMaxTokens),
				Profile:   Greedy(),
				Seed:      seed,
				MaxTokens: g.maxTokensFor(shortfall + 2),
				Unguided:  g.cfg.Unguided,
			})
			attempts = append(attempts, ms...)
			if err == nil {
				state.Absorb(items, target)
			} else {
				g.log.Debug("last-mile call failed", zap.Error(err))
			}
		}
	}
	return attempts, lastErr
}

type backfillCallArgs struct {
	prompt      string
	seed        uint64
	temperature float32
	count       int
}

// backfillCall issues one backfill attempt and absorbs its results.
// Attempt errors (ladder exhaustion, overflow from an oversized
// avoid-list) count as zero progress for the calling round.
func (g *Generator) backfillCall(ctx context.Context, args backfillCallArgs, state *State, target int, attempts *[]AttemptMetrics) (int, error) {
	items, ms, err := g.engine.Attempt(ctx, AttemptRequest{
		Prompt:      args.prompt,
		Profile:     TopP(g.cfg.Pass1TopP),
		Seed:        args.seed,
		Temperature: args.temperature,
		MaxTokens:   g.maxTokensFor(args.count),
		Unguided:    g.cfg.Unguided,
	})
	*attempts = append(*attempts, ms...)
	if err != nil {
		g.log.Debug("backfill round produced nothing", zap.Error(err))
		return 0, err
	}
	return state.Absorb(items, target), nil
}

func (g *Generator) failureReason(ctx context.Context, state *State, target int, roundErr error) string {
	if state.Accepted() >= target {
		return ""
	}
	if ctx.Err() != nil {
		return fmt.Sprintf("cancelled with %d of %d items accepted", state.Accepted(), target)
	}
	if state.CircuitBreakerTriggered {
		return fmt.Sprintf("circuit breaker: %d consecutive zero-progress backfill rounds; accepted %d of %d",
			g.cfg.CircuitBreakerRounds, state.Accepted(), target)
	}
	if roundErr != nil {
		return fmt.Sprintf("generation shortfall: accepted %d of %d after %d backfill rounds (last round error: %v)",
			state.Accepted(), target, state.BackfillRounds, roundErr)
	}
	return fmt.Sprintf("generation shortfall: accepted %d of %d after %d backfill rounds",
		state.Accepted(), target, state.BackfillRounds)
}

// budgetCap bounds any single request count by the context budget left
// after prompt overhead, at the empirical average cost per item.
func (g *Generator) budgetCap(query string, target int) int {
	overhead := budget.Estimate(passPrompt(query, target))
	usable := g.cfg.ContextBudgetTokens - overhead
	perRequest := usable / g.cfg.TokensPerItem
	if perRequest < 1 {
		perRequest = 1
	}
	return perRequest
}

func (g *Generator) maxTokensFor(count int) int32 {
	return int32(count*g.cfg.TokensPerItem + 32)
}

func ceilMul(n int, factor float64) int {
	return int(math.Ceil(float64(n) * factor))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if lo > hi {
		lo = hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
