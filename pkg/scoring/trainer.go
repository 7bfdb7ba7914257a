package scoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/churn"
	"github.com/yairfalse/lifeline/pkg/clv"
	"github.com/yairfalse/lifeline/pkg/domain"
	"github.com/yairfalse/lifeline/pkg/features"
)

// Trainer fits a new model artifact from the full transaction history and
// optional labeled churn outcomes. The artifact is returned for registration;
// the trainer never touches the registry itself.
type Trainer struct {
	logger   *zap.Logger
	builder  *features.Builder
	clvModel *clv.Model
	ensemble *churn.Ensemble
	nowFn    func() time.Time
}

// NewTrainer creates a trainer.
func NewTrainer(logger *zap.Logger, builder *features.Builder, clvModel *clv.Model, ensemble *churn.Ensemble) *Trainer {
	return &Trainer{
		logger:   logger,
		builder:  builder,
		clvModel: clvModel,
		ensemble: ensemble,
		nowFn:    time.Now,
	}
}

// Train builds features from the records, fits CLV priors and the churn
// ensemble, and assembles a versioned artifact. An empty version gets a
// timestamp-derived one. Missing labels degrade the artifact to
// survival-only scoring; fit non-convergence falls back to moment matching.
// Neither hard-fails training.
func (t *Trainer) Train(ctx context.Context, records []domain.Transaction, outcomes []domain.LabeledOutcome, version string) (*domain.ModelArtifact, error) {
	now := t.nowFn()
	if version == "" {
		version = "v" + now.UTC().Format("20060102-150405")
	}

	profiles, buildSummary := t.builder.BuildProfiles(ctx, records, now)
	if buildSummary.Customers == 0 {
		return nil, fmt.Errorf("cannot train: no valid customer records")
	}

	clvParams, err := t.clvModel.Fit(ctx, profiles)
	if err != nil {
		return nil, fmt.Errorf("clv fit failed: %w", err)
	}

	churnResult, err := t.ensemble.Train(ctx, profiles, outcomes)
	if err != nil {
		return nil, fmt.Errorf("churn training failed: %w", err)
	}

	artifact := &domain.ModelArtifact{
		Version:               version,
		CreatedAt:             now,
		FeatureSchema:         t.builder.Schema(),
		CLV:                   clvParams,
		Classifier:            churnResult.Classifier,
		SurvivalCurve:         churnResult.SurvivalCurve,
		ClassifierCalibration: churnResult.ClassifierCalibration,
		SurvivalCalibration:   churnResult.SurvivalCalibration,
		BlendWeight:           churnResult.BlendWeight,
	}

	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("trained artifact invalid: %w", err)
	}

	t.logger.Info("Trained model artifact",
		zap.String("version", version),
		zap.Int("customers", buildSummary.Customers),
		zap.Int("records_read", buildSummary.RecordsRead),
		zap.Int("records_rejected", buildSummary.RecordsRejected),
		zap.Int("labeled_outcomes", len(outcomes)),
		zap.Bool("degraded", churnResult.Degraded),
		zap.Bool("moment_fallback", clvParams.MomentFallback))

	return artifact, nil
}
