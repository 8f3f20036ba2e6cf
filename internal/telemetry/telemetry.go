// Package telemetry persists per-attempt generation records as NDJSON,
// one JSON object per line, so runs can be compared and analyzed offline
// with standard line-oriented tooling.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eworthing/uniqgen/internal/config"
	"github.com/eworthing/uniqgen/internal/generate"
)

// AttemptRecord is one NDJSON line: a single service attempt merged with
// the run-level fields needed to group and compare runs after the fact.
type AttemptRecord struct {
	RunID       string `json:"run_id"`
	TestID      string `json:"test_id,omitempty"`
	Timestamp   string `json:"ts"`
	Query       string `json:"query"`
	TargetCount int    `json:"target_count"`
	Model       string `json:"model,omitempty"`

	AttemptIndex     int     `json:"attempt_index"`
	Seed             uint64  `json:"seed"`
	Sampling         string  `json:"sampling"`
	Temperature      float32 `json:"temperature"`
	SessionRecreated bool    `json:"session_recreated"`
	ItemsReturned    *int    `json:"items_returned"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`

	TotalGenerated          int     `json:"total_generated"`
	DupCount                int     `json:"dup_count"`
	DupRate                 float64 `json:"dup_rate"`
	PassCount               int     `json:"pass_count"`
	BackfillRounds          int     `json:"backfill_rounds"`
	CircuitBreakerTriggered bool    `json:"circuit_breaker_triggered"`
	Success                 bool    `json:"success"`
	FailureReason           string  `json:"failure_reason,omitempty"`
}

// Run identifies one UniqueList invocation for the recorder.
type Run struct {
	TestID      string
	Query       string
	TargetCount int
	Model       string
}

// Recorder appends attempt records to an NDJSON file, rotating it aside
// once it grows past the configured size. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	path string
	max  int64
	log  *zap.Logger
	last generate.Diagnostics

	now func() time.Time
}

// NewRecorder creates a recorder writing to cfg.Path. The file and its
// parent directory are created lazily on first record.
func NewRecorder(cfg config.TelemetryConfig, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		path: cfg.Path,
		max:  cfg.MaxBytes,
		log:  log,
		now:  time.Now,
	}
}

// RecordRun writes one line per attempt in diag, all sharing a freshly
// minted run ID. The run ID is returned so callers can surface it.
func (r *Recorder) RecordRun(run Run, diag generate.Diagnostics) (string, error) {
	runID := uuid.NewString()
	ts := r.now().UTC().Format(time.RFC3339)

	records := make([]AttemptRecord, 0, len(diag.Attempts))
	for _, a := range diag.Attempts {
		records = append(records, AttemptRecord{
			RunID:       runID,
			TestID:      run.TestID,
			Timestamp:   ts,
			Query:       run.Query,
			TargetCount: run.TargetCount,
			Model:       run.Model,

			AttemptIndex:     a.AttemptIndex,
			Seed:             a.Seed,
			Sampling:         a.Sampling,
			Temperature:      a.Temperature,
			SessionRecreated: a.SessionRecreated,
			ItemsReturned:    a.ItemsReturned,
			ElapsedSeconds:   a.ElapsedSeconds,

			TotalGenerated:          diag.TotalGenerated,
			DupCount:                diag.DupCount,
			DupRate:                 diag.DupRate,
			PassCount:               diag.PassCount,
			BackfillRounds:          diag.BackfillRounds,
			CircuitBreakerTriggered: diag.CircuitBreakerTriggered,
			Success:                 diag.Success,
			FailureReason:           diag.FailureReason,
		})
	}

	if err := r.append(records); err != nil {
		return runID, err
	}

	r.mu.Lock()
	r.last = diag
	r.mu.Unlock()
	return runID, nil
}

// Diagnostics returns the diagnostics of the most recently recorded run,
// or the zero value when nothing has been recorded.
func (r *Recorder) Diagnostics() generate.Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Recorder) append(records []AttemptRecord) error {
	if len(records) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotateIfNeeded(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("creating telemetry directory: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening telemetry file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing telemetry record: %w", err)
		}
	}
	return nil
}

// rotateIfNeeded moves an oversized file aside under a timestamped name
// so the active file stays bounded. Rotation failures are non-fatal:
// appending to an oversized file beats losing the records.
func (r *Recorder) rotateIfNeeded() error {
	info, err := os.Stat(r.path)
	if err != nil || info.Size() < r.max {
		return nil
	}

	rotated := fmt.Sprintf("%s.%s", r.path, r.now().UTC().Format("20060102T150405"))
	if err := os.Rename(r.path, rotated); err != nil {
		r.log.Warn("telemetry rotation failed, continuing on oversized file",
			zap.String("path", r.path), zap.Error(err))
		return nil
	}
	r.log.Info("rotated telemetry file",
		zap.String("from", r.path), zap.String("to", rotated))
	return nil
}

// ReadAll decodes every record currently in the active telemetry file.
// A missing file yields an empty slice.
func ReadAll(path string) ([]AttemptRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening telemetry file: %w", err)
	}
	defer f.Close()

	var records []AttemptRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec AttemptRecord
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("decoding telemetry record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
