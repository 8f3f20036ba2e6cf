package generate

// AttemptMetrics is one record per external service call, successful or
// not. ItemsReturned is nil when the call failed before producing items.
type AttemptMetrics struct {
	AttemptIndex     int     `json:"attempt_index"`
	Seed             uint64  `json:"seed"`
	Sampling         string  `json:"sampling"`
	Temperature      float32 `json:"temperature"`
	SessionRecreated bool    `json:"session_recreated"`
	ItemsReturned    *int    `json:"items_returned"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// Diagnostics is the immutable run summary handed back with the accepted
// items. A shortfall is reported here, not as an error.
type Diagnostics struct {
	TotalGenerated          int      `json:"total_generated"`
	DupCount                int      `json:"dup_count"`
	DupRate                 float64  `json:"dup_rate"`
	PassCount               int      `json:"pass_count"`
	BackfillRounds          int      `json:"backfill_rounds"`
	CircuitBreakerTriggered bool     `json:"circuit_breaker_triggered"`
	Success                 bool     `json:"success"`
	FailureReason           string   `json:"failure_reason,omitempty"`
	TopDuplicates           []string `json:"top_duplicates,omitempty"`

	// Attempts carries the per-call metrics so the telemetry recorder can
	// merge them with the run-level fields above.
	Attempts []AttemptMetrics `json:"attempts,omitempty"`
}

// summarize derives the final diagnostics from a finished state.
func summarize(s *State, target int, failureReason string, attempts []AttemptMetrics, topN int) Diagnostics {
	return Diagnostics{
		TotalGenerated:          s.TotalGenerated,
		DupCount:                s.DuplicatesFound,
		DupRate:                 s.DupRate(),
		PassCount:               s.PassCount,
		BackfillRounds:          s.BackfillRounds,
		CircuitBreakerTriggered: s.CircuitBreakerTriggered,
		Success:                 s.Accepted() >= target,
		FailureReason:           failureReason,
		TopDuplicates:           s.TopDuplicates(topN),
		Attempts:                attempts,
	}
}
