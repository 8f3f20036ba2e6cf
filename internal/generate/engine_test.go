package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eworthing/uniqgen/internal/config"
	"github.com/eworthing/uniqgen/internal/llm"
)

// scriptedService replays a fixed sequence of responses and records
// every call's options for ladder assertions.
type scriptedService struct {
	results []*llm.Result
	errs    []error

	calls     []llm.Options
	prompts   []string
	contracts []llm.Contract
	resets    int
}

func (s *scriptedService) Call(_ context.Context, prompt string, opts llm.Options, contract llm.Contract) (*llm.Result, error) {
	i := len(s.calls)
	s.calls = append(s.calls, opts)
	s.prompts = append(s.prompts, prompt)
	s.contracts = append(s.contracts, contract)

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &llm.Result{}, nil
}

func (s *scriptedService) ResetSession() { s.resets++ }

func testGenConfig() config.GenerationConfig {
	return config.Default().Generation
}

func baseRequest() AttemptRequest {
	return AttemptRequest{
		Prompt:      "list things",
		Profile:     TopP(0.92),
		Seed:        7919,
		Temperature: 0.8,
		MaxTokens:   100,
	}
}

func TestAttemptFirstCallSucceeds(t *testing.T) {
	svc := &scriptedService{results: []*llm.Result{{Items: []string{"a", "b"}}}}
	eng := NewEngine(svc, testGenConfig(), nil)

	items, metrics, err := eng.Attempt(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	require.Len(t, metrics, 1)
	require.NotNil(t, metrics[0].ItemsReturned)
	assert.Equal(t, 2, *metrics[0].ItemsReturned)
	assert.Equal(t, uint64(7919), metrics[0].Seed)
	assert.False(t, metrics[0].SessionRecreated)
	assert.Equal(t, 0, svc.resets)
}

func TestAttemptLadderEscalation(t *testing.T) {
	// Three recoverable failures exercise every ladder rung before the
	// fourth call succeeds.
	svc := &scriptedService{
		errs: []error{
			llm.DecodeFailuref("bad output"),
			llm.DecodeFailuref("bad output again"),
			llm.ParseFailuref("still bad"),
		},
		results: []*llm.Result{nil, nil, nil, {Items: []string{"finally"}}},
	}
	eng := NewEngine(svc, testGenConfig(), nil)

	items, metrics, err := eng.Attempt(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, []string{"finally"}, items)
	require.Len(t, svc.calls, 4)
	require.Len(t, metrics, 4)

	// Rung 1: maxTokens grows by the escalation factor.
	assert.Equal(t, int32(100), svc.calls[0].MaxOutputTokens)
	assert.Equal(t, int32(180), svc.calls[1].MaxOutputTokens)

	// Rung 2: session recreated, seed rotated to the ring's next entry.
	assert.Equal(t, 1, svc.resets)
	assert.Equal(t, uint64(7919), svc.calls[1].Seed)
	assert.Equal(t, uint64(104729), svc.calls[2].Seed)
	assert.True(t, metrics[2].SessionRecreated)

	// Rung 3: temperature drops to the retry value.
	assert.InDelta(t, 0.7, svc.calls[3].Temperature, 1e-6)

	// Failed calls have no item count; the successful one does.
	assert.Nil(t, metrics[0].ItemsReturned)
	assert.Nil(t, metrics[2].ItemsReturned)
	require.NotNil(t, metrics[3].ItemsReturned)
}

func TestAttemptTokenEscalationCapped(t *testing.T) {
	svc := &scriptedService{
		errs:    []error{llm.DecodeFailuref("x")},
		results: []*llm.Result{nil, {Items: []string{"ok"}}},
	}
	eng := NewEngine(svc, testGenConfig(), nil)

	req := baseRequest()
	req.MaxTokens = 400 // 400 * 1.8 = 720, above the 512 cap
	_, _, err := eng.Attempt(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, svc.calls, 2)
	assert.Equal(t, int32(512), svc.calls[1].MaxOutputTokens)
}

func TestAttemptExhaustsRetries(t *testing.T) {
	svc := &scriptedService{
		errs: []error{
			llm.DecodeFailuref("1"),
			llm.DecodeFailuref("2"),
			llm.DecodeFailuref("3"),
			llm.DecodeFailuref("4"),
		},
	}
	eng := NewEngine(svc, testGenConfig(), nil)

	_, metrics, err := eng.Attempt(context.Background(), baseRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrDecodeFailure))
	assert.Contains(t, err.Error(), "exhausted")
	// MaxRetries(3) retries after the initial call: 4 calls total.
	assert.Len(t, svc.calls, 4)
	assert.Len(t, metrics, 4)
}

func TestAttemptFatalErrorPropagatesImmediately(t *testing.T) {
	fatal := errors.New("transport: connection refused")
	svc := &scriptedService{errs: []error{fatal}}
	eng := NewEngine(svc, testGenConfig(), nil)

	_, metrics, err := eng.Attempt(context.Background(), baseRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, fatal))
	assert.Len(t, svc.calls, 1, "fatal errors must not be retried")
	assert.Len(t, metrics, 1)
	assert.Equal(t, 0, svc.resets)
}

func TestAttemptContextOverflowIsFatal(t *testing.T) {
	svc := &scriptedService{errs: []error{llm.ErrContextOverflow}}
	eng := NewEngine(svc, testGenConfig(), nil)

	_, _, err := eng.Attempt(context.Background(), baseRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrContextOverflow))
	assert.Len(t, svc.calls, 1)
}

func TestAttemptCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &scriptedService{errs: []error{context.Canceled}}
	eng := NewEngine(svc, testGenConfig(), nil)

	_, metrics, err := eng.Attempt(ctx, baseRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, metrics, 1)
}

func TestAttemptUnguidedParsesFreeText(t *testing.T) {
	svc := &scriptedService{
		results: []*llm.Result{{Text: `Here you go: ["x", "y"]`}},
	}
	eng := NewEngine(svc, testGenConfig(), nil)

	req := baseRequest()
	req.Unguided = true
	items, _, err := eng.Attempt(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, items)
	require.Len(t, svc.contracts, 1)
	assert.Equal(t, llm.ContractFreeText, svc.contracts[0])
}

func TestAttemptUnguidedUnparseableRetries(t *testing.T) {
	svc := &scriptedService{
		results: []*llm.Result{
			{Text: "no array here"},
			{Text: `["recovered"]`},
		},
	}
	eng := NewEngine(svc, testGenConfig(), nil)

	req := baseRequest()
	req.Unguided = true
	items, _, err := eng.Attempt(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, []string{"recovered"}, items)
	assert.Len(t, svc.calls, 2)
}

func TestAttemptMetricsIndexMonotonic(t *testing.T) {
	svc := &scriptedService{results: []*llm.Result{
		{Items: []string{"a"}},
		{Items: []string{"b"}},
	}}
	eng := NewEngine(svc, testGenConfig(), nil)

	_, m1, err := eng.Attempt(context.Background(), baseRequest())
	require.NoError(t, err)
	_, m2, err := eng.Attempt(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, m1[0].AttemptIndex)
	assert.Equal(t, 2, m2[0].AttemptIndex)
}

func TestNextSeedRing(t *testing.T) {
	ring := []uint64{7919, 104729, 1299709, 15485863}

	assert.Equal(t, uint64(104729), nextSeed(ring, 7919))
	assert.Equal(t, uint64(7919), nextSeed(ring, 15485863), "ring wraps")
	assert.Equal(t, uint64(7919), nextSeed(ring, 42), "unknown seed enters at the head")
}

func TestEscalateTokens(t *testing.T) {
	assert.Equal(t, int32(180), escalateTokens(100, 1.8, 512))
	assert.Equal(t, int32(512), escalateTokens(400, 1.8, 512))
	assert.Equal(t, int32(600), escalateTokens(600, 1.8, 512), "budgets above the cap never shrink")
}
