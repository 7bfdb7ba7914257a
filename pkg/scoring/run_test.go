package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAdvancesThroughPipeline(t *testing.T) {
	run := newRun(RunModeBatch)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatePending, run.State)
	assert.False(t, run.StartedAt.IsZero())

	require.NoError(t, run.advance(RunStateFeaturesReady))
	require.NoError(t, run.advance(RunStateScored))
	require.NoError(t, run.advance(RunStateSegmented))
	require.NoError(t, run.advance(RunStateComplete))

	assert.Equal(t, RunStateComplete, run.State)
	assert.False(t, run.CompletedAt.IsZero())
}

func TestRunRejectsSkippedStates(t *testing.T) {
	run := newRun(RunModeBatch)

	assert.Error(t, run.advance(RunStateScored), "cannot skip FEATURES_READY")
	assert.Error(t, run.advance(RunStateComplete))
	assert.Equal(t, RunStatePending, run.State, "failed transition must not move the run")
}

func TestRunFailFromAnyState(t *testing.T) {
	run := newRun(RunModeRealtime)
	require.NoError(t, run.advance(RunStateFeaturesReady))

	run.fail(errors.New("model store unreachable"))
	assert.Equal(t, RunStateFailed, run.State)
	assert.Equal(t, "model store unreachable", run.Err)
	assert.False(t, run.CompletedAt.IsZero())

	// Terminal: no further transitions allowed.
	assert.Error(t, run.advance(RunStateScored))
}
