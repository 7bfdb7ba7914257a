package domain

import (
	"fmt"
	"math"
	"time"
)

// RiskTier is the discretized churn probability bucket. Cut-points are
// configurable and applied after calibration, never to raw scores.
type RiskTier string

const (
	RiskTierLow    RiskTier = "LOW"
	RiskTierMedium RiskTier = "MEDIUM"
	RiskTierHigh   RiskTier = "HIGH"
)

// RiskThresholds holds the tier cut-points: LOW < Medium <= MEDIUM < High <= HIGH.
type RiskThresholds struct {
	Medium float64 `yaml:"medium" json:"medium"`
	High   float64 `yaml:"high" json:"high"`
}

// DefaultRiskThresholds returns the standard 0.3/0.7 cut-points.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 0.3, High: 0.7}
}

// Validate checks the cut-point ordering.
func (rt RiskThresholds) Validate() error {
	if rt.Medium <= 0 || rt.Medium >= 1 {
		return fmt.Errorf("medium threshold must be in (0, 1), got: %f", rt.Medium)
	}
	if rt.High <= rt.Medium || rt.High >= 1 {
		return fmt.Errorf("high threshold must be in (medium, 1), got: %f", rt.High)
	}
	return nil
}

// Tier maps a calibrated churn probability to a risk tier.
func (rt RiskThresholds) Tier(probability float64) RiskTier {
	switch {
	case probability >= rt.High:
		return RiskTierHigh
	case probability >= rt.Medium:
		return RiskTierMedium
	default:
		return RiskTierLow
	}
}

// CLVEstimate is a projected monetary value over a forecast horizon.
type CLVEstimate struct {
	Value       float64 `json:"value"`
	HorizonDays int     `json:"horizon_days"`
}

// PredictionResult is the engine's output for one customer. Created fresh
// per scoring call and never mutated afterwards.
type PredictionResult struct {
	CustomerID       string      `json:"customer_id"`
	CLV              CLVEstimate `json:"clv_estimate"`
	ChurnProbability float64     `json:"churn_probability"`
	RiskTier         RiskTier    `json:"risk_tier"`
	SegmentID        string      `json:"segment_id"`
	ModelVersion     string      `json:"model_version"`
	ComputedAt       time.Time   `json:"computed_at"`

	// Degraded marks survival-only churn scoring (no trained classifier).
	Degraded bool `json:"degraded,omitempty"`

	// LowConfidence marks cold-start customers scored from the
	// population prior alone.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Validate checks the result invariants before it leaves the engine.
func (pr *PredictionResult) Validate() error {
	if pr.CustomerID == "" {
		return fmt.Errorf("customer ID cannot be empty")
	}

	if math.IsNaN(pr.CLV.Value) || math.IsInf(pr.CLV.Value, 0) {
		return fmt.Errorf("clv estimate must be finite, got: %f", pr.CLV.Value)
	}

	if pr.CLV.Value < 0 {
		return fmt.Errorf("clv estimate must be non-negative, got: %f", pr.CLV.Value)
	}

	if pr.ChurnProbability < 0 || pr.ChurnProbability > 1 {
		return fmt.Errorf("churn probability must be between 0.0 and 1.0, got: %f", pr.ChurnProbability)
	}

	if pr.ModelVersion == "" {
		return fmt.Errorf("model version cannot be empty")
	}

	if pr.ComputedAt.IsZero() {
		return fmt.Errorf("computed_at cannot be zero")
	}

	return nil
}
