// Package churn combines a discriminative classifier with a survival-curve
// estimate into one calibrated churn probability. The two signals are
// calibrated independently against held-out labels and then blended by a
// configurable weight, so each stage is testable in isolation.
package churn

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// EnsembleConfig contains configuration for training and scoring the churn
// ensemble.
type EnsembleConfig struct {
	// BlendWeight is the classifier's share of the final probability
	// (0.0 to 1.0); the survival signal gets the remainder.
	BlendWeight float64

	// SurvivalBucketDays is the tenure bucket width of the retention curve.
	SurvivalBucketDays float64

	// ActivityGraceFactor scales a customer's mean interpurchase gap into
	// the activity window used when building the retention curve.
	ActivityGraceFactor float64

	// PressureScale controls how fast recency pressure saturates relative
	// to the customer's own purchase cadence.
	PressureScale float64

	// HoldoutFraction of labeled outcomes reserved for calibration.
	HoldoutFraction float64

	// Classifier training settings.
	LearningRate      float64
	Epochs            int
	CalibrationEpochs int
}

// DefaultEnsembleConfig returns the standard ensemble configuration. The
// 0.6/0.4 blend favors the classifier when one is available; the survival
// signal keeps the ensemble honest for customers unlike the training set.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		BlendWeight:         0.6,
		SurvivalBucketDays:  30,
		ActivityGraceFactor: 2.0,
		PressureScale:       2.0,
		HoldoutFraction:     0.2,
		LearningRate:        0.1,
		Epochs:              300,
		CalibrationEpochs:   200,
	}
}

// TrainResult is everything the churn ensemble contributes to a model
// artifact.
type TrainResult struct {
	Classifier            *domain.ClassifierParams
	SurvivalCurve         []domain.SurvivalBucket
	ClassifierCalibration domain.CalibrationParams
	SurvivalCalibration   domain.CalibrationParams
	BlendWeight           float64

	// Degraded is set when no labeled outcomes were available and the
	// ensemble will score survival-only.
	Degraded bool
}

// Ensemble trains and evaluates the churn risk ensemble.
type Ensemble struct {
	logger *zap.Logger
	config EnsembleConfig

	// OTEL instrumentation
	tracer      trace.Tracer
	scoresTotal metric.Int64Counter
	probDist    metric.Float64Histogram
}

// NewEnsemble creates a churn ensemble.
func NewEnsemble(logger *zap.Logger, config EnsembleConfig) *Ensemble {
	tracer := otel.Tracer("lifeline.churn")
	meter := otel.Meter("lifeline.churn")

	scoresTotal, err := meter.Int64Counter(
		"churn_scores_total",
		metric.WithDescription("Total number of churn probabilities computed"),
	)
	if err != nil {
		logger.Warn("Failed to create scores counter", zap.Error(err))
	}

	probDist, err := meter.Float64Histogram(
		"churn_probability",
		metric.WithDescription("Distribution of calibrated churn probabilities"),
	)
	if err != nil {
		logger.Warn("Failed to create probability histogram", zap.Error(err))
	}

	return &Ensemble{
		logger:      logger,
		config:      config,
		tracer:      tracer,
		scoresTotal: scoresTotal,
		probDist:    probDist,
	}
}

// Train builds the survival curve from the full population and, when labeled
// outcomes exist, trains and calibrates the classifier. Missing labels are
// not an error: the result is marked degraded and scoring proceeds
// survival-only.
func (e *Ensemble) Train(ctx context.Context, profiles []*domain.CustomerProfile, outcomes []domain.LabeledOutcome) (TrainResult, error) {
	ctx, span := e.tracer.Start(ctx, "churn.train")
	defer span.End()

	curve := buildSurvivalCurve(profiles, e.config.SurvivalBucketDays, e.config.ActivityGraceFactor)
	if len(curve) == 0 {
		return TrainResult{}, fmt.Errorf("cannot build survival curve: no customers with history")
	}

	result := TrainResult{
		SurvivalCurve:         curve,
		SurvivalCalibration:   identityCalibration(),
		ClassifierCalibration: identityCalibration(),
		BlendWeight:           e.config.BlendWeight,
	}

	if len(outcomes) == 0 {
		result.Degraded = true
		span.SetAttributes(attribute.Bool("degraded", true))
		e.logger.Warn("No labeled outcomes available, churn ensemble will score survival-only")
		return result, nil
	}

	trainSet, holdout := splitOutcomes(outcomes, e.config.HoldoutFraction)

	classifier, err := trainClassifier(trainSet, e.config.LearningRate, e.config.Epochs)
	if err != nil {
		return TrainResult{}, fmt.Errorf("failed to train churn classifier: %w", err)
	}
	result.Classifier = classifier

	// Calibrate each signal independently against held-out labels.
	calSet := holdout
	if len(calSet) == 0 {
		calSet = trainSet
	}

	clsRaws := make([]float64, len(calSet))
	survRaws := make([]float64, len(calSet))
	labels := make([]bool, len(calSet))
	for i, o := range calSet {
		clsRaws[i] = classifierRaw(classifier, o.Features)
		survRaws[i] = survivalRaw(curve, o.Features, e.config.PressureScale)
		labels[i] = o.Churned
	}

	result.ClassifierCalibration = fitCalibration(clsRaws, labels, e.config.LearningRate, e.config.CalibrationEpochs)
	result.SurvivalCalibration = fitCalibration(survRaws, labels, e.config.LearningRate, e.config.CalibrationEpochs)

	span.SetAttributes(
		attribute.Int("labeled_outcomes", len(outcomes)),
		attribute.Int("holdout", len(holdout)),
		attribute.Int("survival_buckets", len(curve)),
	)

	e.logger.Info("Trained churn ensemble",
		zap.Int("labeled_outcomes", len(outcomes)),
		zap.Int("holdout", len(holdout)),
		zap.Int("survival_buckets", len(curve)),
		zap.Float64("blend_weight", result.BlendWeight))

	return result, nil
}

// Score computes the calibrated churn probability for one customer against a
// trained artifact. The second return value reports degraded (survival-only)
// scoring.
func (e *Ensemble) Score(ctx context.Context, artifact *domain.ModelArtifact, fv domain.FeatureVector) (float64, bool) {
	survProb := applyCalibration(artifact.SurvivalCalibration,
		survivalRaw(artifact.SurvivalCurve, fv, e.config.PressureScale))

	degraded := artifact.Classifier == nil

	var probability float64
	if degraded {
		probability = survProb
	} else {
		clsProb := applyCalibration(artifact.ClassifierCalibration,
			classifierRaw(artifact.Classifier, fv))
		w := artifact.BlendWeight
		probability = w*clsProb + (1.0-w)*survProb
	}

	if e.scoresTotal != nil {
		e.scoresTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("degraded", degraded)))
	}
	if e.probDist != nil {
		e.probDist.Record(ctx, probability)
	}

	return probability, degraded
}

// splitOutcomes deterministically reserves every n-th outcome for the
// calibration holdout. Deterministic so training is reproducible.
func splitOutcomes(outcomes []domain.LabeledOutcome, holdoutFraction float64) ([]domain.LabeledOutcome, []domain.LabeledOutcome) {
	if holdoutFraction <= 0 || holdoutFraction >= 1 || len(outcomes) < 5 {
		return outcomes, nil
	}

	stride := int(1.0 / holdoutFraction)
	var trainSet, holdout []domain.LabeledOutcome
	for i, o := range outcomes {
		if i%stride == stride-1 {
			holdout = append(holdout, o)
		} else {
			trainSet = append(trainSet, o)
		}
	}
	return trainSet, holdout
}
