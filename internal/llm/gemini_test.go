package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

func testService() *GeminiService {
	return &GeminiService{model: "test-model", log: zap.NewNop()}
}

func TestBuildConfigGreedy(t *testing.T) {
	cfg := testService().buildConfig(Options{Greedy: true, Seed: 7919, MaxOutputTokens: 64}, ContractItems)

	require.NotNil(t, cfg.Temperature)
	assert.Zero(t, *cfg.Temperature)
	require.NotNil(t, cfg.TopK)
	assert.Equal(t, float32(1), *cfg.TopK)
	assert.Equal(t, int32(64), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int32(7919), *cfg.Seed)
}

func TestBuildConfigTopP(t *testing.T) {
	cfg := testService().buildConfig(Options{TopP: 0.92, Temperature: 0.8, Seed: 1}, ContractItems)

	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.8, *cfg.Temperature, 1e-6)
	require.NotNil(t, cfg.TopP)
	assert.InDelta(t, 0.92, *cfg.TopP, 1e-6)
	assert.Nil(t, cfg.TopK)
}

func TestBuildConfigTopK(t *testing.T) {
	cfg := testService().buildConfig(Options{TopK: 40, Temperature: 0.7, Seed: 1}, ContractFreeText)

	require.NotNil(t, cfg.TopK)
	assert.Equal(t, float32(40), *cfg.TopK)
	assert.Nil(t, cfg.TopP)
}

func TestBuildConfigContract(t *testing.T) {
	guided := testService().buildConfig(Options{Seed: 1}, ContractItems)
	assert.Equal(t, "application/json", guided.ResponseMIMEType)
	require.NotNil(t, guided.ResponseSchema)
	assert.Equal(t, genai.TypeArray, guided.ResponseSchema.Type)

	free := testService().buildConfig(Options{Seed: 1}, ContractFreeText)
	assert.Empty(t, free.ResponseMIMEType)
	assert.Nil(t, free.ResponseSchema)
}

func TestBuildConfigSeedTruncation(t *testing.T) {
	// Seeds wider than 31 bits must still map to a valid API seed.
	cfg := testService().buildConfig(Options{Seed: 1<<40 | 42}, ContractItems)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int32(42), *cfg.Seed)
}

func TestClassifyCallErrorTimeout(t *testing.T) {
	err := testService().classifyCallError(context.DeadlineExceeded, 0)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, Recoverable(err))
}

func TestClassifyCallErrorContextOverflow(t *testing.T) {
	apiErr := genai.APIError{Code: 400, Message: "input token count exceeds the maximum"}
	err := testService().classifyCallError(apiErr, 0)

	assert.True(t, errors.Is(err, ErrContextOverflow))
	assert.False(t, Recoverable(err))
}

func TestClassifyCallErrorTransport(t *testing.T) {
	err := testService().classifyCallError(errors.New("connection refused"), 0)

	assert.False(t, Recoverable(err))
	assert.False(t, errors.Is(err, ErrContextOverflow))
}

func TestClassifyCallErrorBadRequestNotOverflow(t *testing.T) {
	// A 400 unrelated to token limits stays a plain fatal error.
	apiErr := genai.APIError{Code: 400, Message: "invalid response schema"}
	err := testService().classifyCallError(apiErr, 0)

	assert.False(t, errors.Is(err, ErrContextOverflow))
}

func TestRecoverableTaxonomy(t *testing.T) {
	assert.True(t, Recoverable(DecodeFailuref("x")))
	assert.True(t, Recoverable(ParseFailuref("x")))
	assert.True(t, Recoverable(context.DeadlineExceeded))
	assert.False(t, Recoverable(ErrContextOverflow))
	assert.False(t, Recoverable(errors.New("anything else")))
	assert.False(t, Recoverable(nil))
}
