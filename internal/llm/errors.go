package llm

import (
	"context"
	"errors"
	"fmt"
)

// Failure taxonomy. Decode and parse failures (and timeouts) are
// recoverable: the attempt engine retries them with escalating
// remediation. Context-window overflow and transport errors are fatal
// and propagate immediately, since retrying reproduces the same failure.
var (
	// ErrDecodeFailure: the service's output did not satisfy the
	// requested structured-output contract.
	ErrDecodeFailure = errors.New("schema decode failure")

	// ErrParseFailure: free-text output could not be parsed into items,
	// even after tolerant salvage.
	ErrParseFailure = errors.New("response parse failure")

	// ErrContextOverflow: the prompt (usually an oversized avoid-list)
	// exceeded the service's context window.
	ErrContextOverflow = errors.New("context window overflow")
)

// DecodeFailuref wraps ErrDecodeFailure with call context.
func DecodeFailuref(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecodeFailure, fmt.Sprintf(format, args...))
}

// ParseFailuref wraps ErrParseFailure with call context.
func ParseFailuref(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParseFailure, fmt.Sprintf(format, args...))
}

// Recoverable reports whether err should consume a retry slot rather
// than abort the attempt. Timeouts are treated identically to decode
// failures.
func Recoverable(err error) bool {
	return errors.Is(err, ErrDecodeFailure) ||
		errors.Is(err, ErrParseFailure) ||
		errors.Is(err, context.DeadlineExceeded)
}
