package domain

import (
	"fmt"
	"time"
)

// CLVParams are the fitted population-prior parameters of the two-stage CLV
// model: a gamma prior over individual purchase rates and a shrinkage prior
// over per-transaction spend.
type CLVParams struct {
	// RateShape (r) and RateScale (alpha) define the gamma prior over
	// daily purchase rates. Posterior mean rate for a customer with
	// frequency x over tenure T days is (r + x) / (alpha + T).
	RateShape float64 `yaml:"rate_shape" json:"rate_shape"`
	RateScale float64 `yaml:"rate_scale" json:"rate_scale"`

	// MeanSpend is the population mean transaction value; SpendWeight (q)
	// controls how strongly an individual's observed average is shrunk
	// toward it.
	MeanSpend   float64 `yaml:"mean_spend" json:"mean_spend"`
	SpendWeight float64 `yaml:"spend_weight" json:"spend_weight"`

	// MomentFallback marks parameters produced by the closed-form
	// moment-matching estimate after MLE non-convergence.
	MomentFallback bool `yaml:"moment_fallback,omitempty" json:"moment_fallback,omitempty"`
}

// Validate checks the fitted parameters are usable for scoring.
func (p *CLVParams) Validate() error {
	if p.RateShape <= 0 {
		return fmt.Errorf("rate_shape must be positive, got: %f", p.RateShape)
	}
	if p.RateScale <= 0 {
		return fmt.Errorf("rate_scale must be positive, got: %f", p.RateScale)
	}
	if p.MeanSpend < 0 {
		return fmt.Errorf("mean_spend must be non-negative, got: %f", p.MeanSpend)
	}
	if p.SpendWeight <= 0 {
		return fmt.Errorf("spend_weight must be positive, got: %f", p.SpendWeight)
	}
	return nil
}

// ClassifierParams are the trained churn classifier weights. The classifier
// operates on standardized features; the standardization constants travel
// with the weights so scoring is reproducible across processes.
type ClassifierParams struct {
	Weights      []float64 `yaml:"weights" json:"weights"`
	Bias         float64   `yaml:"bias" json:"bias"`
	FeatureMeans []float64 `yaml:"feature_means" json:"feature_means"`
	FeatureStds  []float64 `yaml:"feature_stds" json:"feature_stds"`
}

// SurvivalBucket is one step of the empirical retention curve: the fraction
// of customers still active among those whose tenure reached the bucket.
type SurvivalBucket struct {
	TenureDays float64 `yaml:"tenure_days" json:"tenure_days"`
	Retention  float64 `yaml:"retention" json:"retention"`
}

// CalibrationParams are logistic (Platt) calibration coefficients mapping a
// raw signal to a calibrated probability: sigmoid(a*logit(raw) + b).
type CalibrationParams struct {
	A float64 `yaml:"a" json:"a"`
	B float64 `yaml:"b" json:"b"`
}

// ModelArtifact is a versioned, immutable bundle of fitted parameters plus
// the feature schema it was trained against. Owned by the model registry;
// scoring calls hold references, never copies.
type ModelArtifact struct {
	Version       string    `yaml:"version" json:"version"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
	FeatureSchema []string  `yaml:"feature_schema" json:"feature_schema"`

	CLV CLVParams `yaml:"clv" json:"clv"`

	// Classifier is nil when no labeled outcomes were available at
	// training time; the churn ensemble then scores survival-only and
	// flags results degraded.
	Classifier *ClassifierParams `yaml:"classifier,omitempty" json:"classifier,omitempty"`

	SurvivalCurve []SurvivalBucket `yaml:"survival_curve" json:"survival_curve"`

	// ClassifierCalibration and SurvivalCalibration map each raw signal
	// to a calibrated probability before blending.
	ClassifierCalibration CalibrationParams `yaml:"classifier_calibration" json:"classifier_calibration"`
	SurvivalCalibration   CalibrationParams `yaml:"survival_calibration" json:"survival_calibration"`

	// BlendWeight is the classifier's share of the final churn
	// probability; the survival signal gets the remainder.
	BlendWeight float64 `yaml:"blend_weight" json:"blend_weight"`
}

// Validate checks the artifact is complete enough to score with.
func (a *ModelArtifact) Validate() error {
	if a.Version == "" {
		return fmt.Errorf("artifact version cannot be empty")
	}

	if len(a.FeatureSchema) == 0 {
		return fmt.Errorf("artifact feature schema cannot be empty")
	}

	if err := a.CLV.Validate(); err != nil {
		return fmt.Errorf("invalid clv params: %w", err)
	}

	if a.Classifier != nil {
		if len(a.Classifier.Weights) != len(a.FeatureSchema) {
			return fmt.Errorf("classifier weight count %d does not match schema size %d",
				len(a.Classifier.Weights), len(a.FeatureSchema))
		}
	}

	if len(a.SurvivalCurve) == 0 {
		return fmt.Errorf("artifact survival curve cannot be empty")
	}

	if a.BlendWeight < 0 || a.BlendWeight > 1 {
		return fmt.Errorf("blend weight must be between 0.0 and 1.0, got: %f", a.BlendWeight)
	}

	return nil
}

// Degraded reports whether the artifact lacks a trained classifier.
func (a *ModelArtifact) Degraded() bool {
	return a.Classifier == nil
}
