package scoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lifeline/pkg/domain"
)

func TestTrainerTrain(t *testing.T) {
	h := newHarness(t)
	records := makeRecords(200)

	artifact, err := h.trainer.Train(context.Background(), records, nil, "")
	require.NoError(t, err)
	require.NoError(t, artifact.Validate())

	assert.Equal(t, "v20260601-120000", artifact.Version, "empty version derives from the training time")
	assert.Equal(t, fixedNow, artifact.CreatedAt)
	assert.Equal(t, domain.FeatureSchema, artifact.FeatureSchema)
	assert.True(t, artifact.Degraded(), "no labels trains a survival-only artifact")
	assert.NotEmpty(t, artifact.SurvivalCurve)
	assert.Greater(t, artifact.CLV.RateShape, 0.0)
}

func TestTrainerTrainWithLabels(t *testing.T) {
	h := newHarness(t)
	records := makeRecords(200)

	var outcomes []domain.LabeledOutcome
	for i := 0; i < 100; i++ {
		churned := i%3 == 0
		recency := 5.0
		if churned {
			recency = 80.0
		}
		outcomes = append(outcomes, domain.LabeledOutcome{
			CustomerID: fmt.Sprintf("hist-%d", i),
			Features: domain.FeatureVector{
				RecencyDays:           recency,
				FrequencyCount:        float64(2 + i%8),
				MonetaryAvg:           30,
				MonetaryTotal:         30 * float64(2+i%8),
				TenureDays:            200,
				InterpurchaseMeanDays: 25,
			},
			Churned: churned,
		})
	}

	artifact, err := h.trainer.Train(context.Background(), records, outcomes, "labeled-v1")
	require.NoError(t, err)

	assert.Equal(t, "labeled-v1", artifact.Version)
	assert.False(t, artifact.Degraded())
	require.NotNil(t, artifact.Classifier)
	assert.Len(t, artifact.Classifier.Weights, len(domain.FeatureSchema))
}

func TestTrainerTrainNoRecords(t *testing.T) {
	h := newHarness(t)

	_, err := h.trainer.Train(context.Background(), nil, nil, "v1")
	assert.Error(t, err)

	// All-malformed input is equivalent to no input.
	bad := []domain.Transaction{{CustomerID: "", Amount: 5}}
	_, err = h.trainer.Train(context.Background(), bad, nil, "v1")
	assert.Error(t, err)
}

func TestTrainedArtifactRoundTripsThroughRegistry(t *testing.T) {
	h := newHarness(t)
	records := makeRecords(100)

	artifact, err := h.trainer.Train(context.Background(), records, nil, "rt-v1")
	require.NoError(t, err)

	require.NoError(t, h.registry.Register(artifact))
	require.NoError(t, h.registry.Activate("rt-v1"))

	out, err := h.orchestrator.ScoreBatch(context.Background(), records, "")
	require.NoError(t, err)
	assert.Equal(t, "rt-v1", out.Run.ModelVersion)
	assert.Equal(t, 100, out.Run.Summary.Succeeded)
}
