package scoring

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of one scoring run.
type RunState string

const (
	RunStatePending       RunState = "PENDING"
	RunStateFeaturesReady RunState = "FEATURES_READY"
	RunStateScored        RunState = "SCORED"
	RunStateSegmented     RunState = "SEGMENTED"
	RunStateComplete      RunState = "COMPLETE"
	RunStateFailed        RunState = "FAILED"
)

// RunMode distinguishes batch population scoring from on-demand calls.
type RunMode string

const (
	RunModeBatch    RunMode = "batch"
	RunModeRealtime RunMode = "realtime"
)

// Summary reports per-record and per-customer outcomes of a run. Per-record
// errors are isolated: skipped records never fail the run.
type Summary struct {
	RecordsRead int `json:"records_read"`

	// Succeeded counts customers scored, Skipped counts malformed
	// records rejected, Failed counts customers whose scoring errored.
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	ColdStart int `json:"cold_start"`

	// PublishFailed counts results the sink rejected.
	PublishFailed int `json:"publish_failed"`

	// Degraded is set when the run scored without a trained classifier.
	Degraded bool `json:"degraded"`
}

// Run tracks one scoring run through its state machine:
// PENDING -> FEATURES_READY -> SCORED -> SEGMENTED -> COMPLETE, with FAILED
// reachable from any state.
type Run struct {
	ID           string    `json:"id"`
	Mode         RunMode   `json:"mode"`
	State        RunState  `json:"state"`
	ModelVersion string    `json:"model_version"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Summary      Summary   `json:"summary"`
	Err          string    `json:"error,omitempty"`
}

var validTransitions = map[RunState]RunState{
	RunStatePending:       RunStateFeaturesReady,
	RunStateFeaturesReady: RunStateScored,
	RunStateScored:        RunStateSegmented,
	RunStateSegmented:     RunStateComplete,
}

func newRun(mode RunMode) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		State:     RunStatePending,
		StartedAt: time.Now(),
	}
}

// advance moves the run to the next state in the pipeline order.
func (r *Run) advance(to RunState) error {
	if validTransitions[r.State] != to {
		return fmt.Errorf("invalid run transition %s -> %s", r.State, to)
	}
	r.State = to
	if to == RunStateComplete {
		r.CompletedAt = time.Now()
	}
	return nil
}

// fail moves the run to the FAILED terminal state from anywhere.
func (r *Run) fail(err error) {
	r.State = RunStateFailed
	r.CompletedAt = time.Now()
	if err != nil {
		r.Err = err.Error()
	}
}
