// Package generate drives the unique-list state machine: over-generate,
// deduplicate by normalization key, backfill shortfalls with avoid-lists,
// and stop early when the service stalls. One UniqueList call owns one
// GenerationState; nothing here is shared between calls.
package generate

import (
	"fmt"

	"github.com/eworthing/uniqgen/internal/llm"
)

type samplingMode int

const (
	samplingGreedy samplingMode = iota
	samplingTopK
	samplingTopP
)

// Profile is a tagged decoding profile: greedy, top-k, or top-p sampling.
// A profile plus (seed, temperature, maxTokens) yields the concrete call
// options for one service attempt.
type Profile struct {
	mode samplingMode
	k    int32
	p    float32
}

// Greedy returns the deterministic decoding profile (used for last-mile
// calls where reproducibility matters more than diversity).
func Greedy() Profile { return Profile{mode: samplingGreedy} }

// TopK returns a top-k sampling profile.
func TopK(k int32) Profile { return Profile{mode: samplingTopK, k: k} }

// TopP returns a nucleus sampling profile.
func TopP(p float32) Profile { return Profile{mode: samplingTopP, p: p} }

// Options produces the service call options for this profile.
func (p Profile) Options(seed uint64, temperature float32, maxTokens int32) llm.Options {
	opts := llm.Options{
		Seed:            seed,
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
	}
	switch p.mode {
	case samplingGreedy:
		opts.Greedy = true
		opts.Temperature = 0
	case samplingTopK:
		opts.TopK = p.k
	case samplingTopP:
		opts.TopP = p.p
	}
	return opts
}

// String returns the sampling descriptor recorded in attempt metrics.
func (p Profile) String() string {
	switch p.mode {
	case samplingTopK:
		return fmt.Sprintf("top_k(%d)", p.k)
	case samplingTopP:
		return fmt.Sprintf("top_p(%.2f)", p.p)
	default:
		return "greedy"
	}
}
