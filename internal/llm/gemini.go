package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini service adapter.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Model:   "gemini-2.5-flash",
		Timeout: 60 * time.Second,
	}
}

// itemsSchema is the structured-output contract for guided calls:
// a bare JSON array of strings.
var itemsSchema = &genai.Schema{
	Type:  genai.TypeArray,
	Items: &genai.Schema{Type: genai.TypeString},
}

// GeminiService implements Service on the Gemini API. It owns one call
// session (the accumulated conversation contents); the session handle is
// a single mutable resource, so all calls are serialized through a
// weight-1 semaphore rather than fanned out.
type GeminiService struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger

	flight  *semaphore.Weighted
	history []*genai.Content
}

// NewGeminiService creates a Gemini-backed Service.
func NewGeminiService(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig("").Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGeminiConfig("").Timeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiService{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log,
		flight:  semaphore.NewWeighted(1),
	}, nil
}

// Call sends one generation request. For ContractItems the response must
// decode as a JSON array of strings; anything else is a decode failure.
func (s *GeminiService) Call(ctx context.Context, prompt string, opts Options, contract Contract) (*Result, error) {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.flight.Release(1)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	genCfg := s.buildConfig(opts, contract)
	contents := append(append([]*genai.Content{}, s.history...),
		genai.NewContentFromText(prompt, genai.RoleUser))

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, genCfg)
	if err != nil {
		return nil, s.classifyCallError(err, time.Since(start))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, DecodeFailuref("no candidates returned")
	}
	candidate := resp.Candidates[0]

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	raw := strings.TrimSpace(text.String())

	s.history = append(s.history,
		genai.NewContentFromText(prompt, genai.RoleUser),
		candidate.Content)

	s.log.Debug("gemini call completed",
		zap.String("model", s.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", len(raw)),
		zap.String("finish_reason", string(candidate.FinishReason)))

	if contract == ContractFreeText {
		return &Result{Text: raw}, nil
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		if candidate.FinishReason == genai.FinishReasonMaxTokens {
			return nil, DecodeFailuref("structured output truncated at max tokens: %v", err)
		}
		return nil, DecodeFailuref("structured output is not a string array: %v", err)
	}
	return &Result{Items: items}, nil
}

// ResetSession discards the accumulated conversation, clearing any
// corrupted state carried over from a failed structured-output exchange.
func (s *GeminiService) ResetSession() {
	if err := s.flight.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer s.flight.Release(1)
	s.history = nil
	s.log.Debug("gemini session recreated")
}

func (s *GeminiService) buildConfig(opts Options, contract Contract) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		CandidateCount: 1,
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = opts.MaxOutputTokens
	}

	seed := int32(opts.Seed & 0x7fffffff)
	cfg.Seed = genai.Ptr(seed)

	switch {
	case opts.Greedy:
		cfg.Temperature = genai.Ptr[float32](0)
		cfg.TopK = genai.Ptr[float32](1)
	case opts.TopK > 0:
		cfg.Temperature = genai.Ptr(opts.Temperature)
		cfg.TopK = genai.Ptr(float32(opts.TopK))
	default:
		cfg.Temperature = genai.Ptr(opts.Temperature)
		if opts.TopP > 0 {
			cfg.TopP = genai.Ptr(opts.TopP)
		}
	}

	if contract == ContractItems {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = itemsSchema
	}
	return cfg
}

// classifyCallError maps SDK errors onto the failure taxonomy.
func (s *GeminiService) classifyCallError(err error, elapsed time.Duration) error {
	s.log.Warn("gemini call failed", zap.Duration("elapsed", elapsed), zap.Error(err))

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gemini call timed out: %w", context.DeadlineExceeded)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 400 {
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "token") &&
			(strings.Contains(msg, "exceed") || strings.Contains(msg, "too large") || strings.Contains(msg, "context")) {
			return fmt.Errorf("%w: %s", ErrContextOverflow, apiErr.Message)
		}
	}
	return fmt.Errorf("gemini call failed: %w", err)
}
