// Package llm defines the contract with the external generative text
// service and the Gemini adapter that implements it. Everything above
// this package treats the service as opaque: a prompt and options go in,
// a list of items or raw text comes out, and failures are classified
// into the taxonomy in errors.go.
package llm

import "context"

// Contract selects the output shape requested from the service.
type Contract int

const (
	// ContractItems asks the service for schema-constrained structured
	// output: a JSON array of strings.
	ContractItems Contract = iota
	// ContractFreeText asks for plain text; the caller parses it.
	ContractFreeText
)

// Options are the per-call decoding options. Zero values mean "let the
// service default apply", except Seed which is always sent so repeated
// runs stay reproducible.
type Options struct {
	// Exactly one sampling field group is meaningful per call; the
	// decoding profile that built the Options decides which.
	Greedy bool
	TopK   int32
	TopP   float32

	Seed            uint64
	Temperature     float32
	MaxOutputTokens int32
}

// Result is one service response. Items is populated for ContractItems,
// Text for ContractFreeText.
type Result struct {
	Items []string
	Text  string
}

// Service is the generative text service. Implementations own a single
// mutable call session; Call is serialized internally, and ResetSession
// discards any accumulated conversational state.
type Service interface {
	Call(ctx context.Context, prompt string, opts Options, contract Contract) (*Result, error)
	ResetSession()
}
