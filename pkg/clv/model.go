// Package clv implements the probabilistic customer lifetime value model: a
// gamma-Poisson purchase-rate process multiplied by a shrinkage estimate of
// per-transaction spend, projected over a configurable horizon.
package clv

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// FitConfig controls the maximum-likelihood fit of the population priors.
type FitConfig struct {
	MaxIterations int
	Tolerance     float64

	// MinParam bounds shape and scale away from zero so posterior rates
	// stay finite and positive.
	MinParam float64

	// MaxSpendWeight caps the shrinkage weight so a single tight
	// population cannot pin every customer to the mean.
	MaxSpendWeight float64
}

// DefaultFitConfig returns the standard fitting configuration.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		MaxIterations:  200,
		Tolerance:      1e-8,
		MinParam:       1e-6,
		MaxSpendWeight: 100.0,
	}
}

// Model fits and evaluates the two-stage CLV model. Fitting is population
// level; scoring is per-customer and never refits.
type Model struct {
	logger *zap.Logger
	config FitConfig

	// OTEL instrumentation
	tracer       trace.Tracer
	fitsTotal    metric.Int64Counter
	scoresTotal  metric.Int64Counter
	estimateDist metric.Float64Histogram
}

// NewModel creates a CLV model.
func NewModel(logger *zap.Logger, config FitConfig) *Model {
	tracer := otel.Tracer("lifeline.clv")
	meter := otel.Meter("lifeline.clv")

	fitsTotal, err := meter.Int64Counter(
		"clv_fits_total",
		metric.WithDescription("Total number of CLV prior fits"),
	)
	if err != nil {
		logger.Warn("Failed to create fits counter", zap.Error(err))
	}

	scoresTotal, err := meter.Int64Counter(
		"clv_scores_total",
		metric.WithDescription("Total number of CLV estimates computed"),
	)
	if err != nil {
		logger.Warn("Failed to create scores counter", zap.Error(err))
	}

	estimateDist, err := meter.Float64Histogram(
		"clv_estimate_value",
		metric.WithDescription("Distribution of CLV estimate values"),
	)
	if err != nil {
		logger.Warn("Failed to create estimate histogram", zap.Error(err))
	}

	return &Model{
		logger:       logger,
		config:       config,
		tracer:       tracer,
		fitsTotal:    fitsTotal,
		scoresTotal:  scoresTotal,
		estimateDist: estimateDist,
	}
}

// Fit estimates the population priors from the full customer set. MLE
// non-convergence falls back to a closed-form moment-matching estimate and
// is logged as degraded; training never hard-fails on convergence alone.
func (m *Model) Fit(ctx context.Context, profiles []*domain.CustomerProfile) (domain.CLVParams, error) {
	ctx, span := m.tracer.Start(ctx, "clv.fit")
	defer span.End()

	var obs []observation
	for _, p := range profiles {
		fv := p.Features
		if fv.ColdStart || fv.TenureDays <= 0 {
			continue
		}
		obs = append(obs, observation{
			count:    fv.FrequencyCount,
			exposure: fv.TenureDays,
			avgSpend: fv.MonetaryAvg,
		})
	}

	if len(obs) == 0 {
		return domain.CLVParams{}, fmt.Errorf("cannot fit clv priors: no customers with transaction history")
	}

	params := domain.CLVParams{}

	shape, scale, err := m.fitRatePrior(obs)
	if err != nil {
		var convErr *domain.ConvergenceError
		if !errors.As(err, &convErr) {
			return domain.CLVParams{}, err
		}
		m.logger.Warn("Purchase-rate MLE did not converge, using moment-matching fallback",
			zap.Int("iterations", convErr.Iterations),
			zap.Float64("delta", convErr.Delta))
		shape, scale = momentMatchRatePrior(obs, m.config.MinParam)
		params.MomentFallback = true
	}
	params.RateShape = shape
	params.RateScale = scale

	params.MeanSpend, params.SpendWeight = fitSpendPrior(obs, m.config.MaxSpendWeight)

	// The projected value (r+x)*spend(x) is non-decreasing in frequency x
	// only when the shrinkage weight is at least the rate shape. Below
	// that, a below-average spender's estimate would shrink faster than
	// the rate posterior grows, and more purchases would lower their CLV.
	if params.SpendWeight < params.RateShape {
		params.SpendWeight = params.RateShape
	}

	if err := params.Validate(); err != nil {
		return domain.CLVParams{}, fmt.Errorf("fitted clv params invalid: %w", err)
	}

	if m.fitsTotal != nil {
		m.fitsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("moment_fallback", params.MomentFallback),
		))
	}

	span.SetAttributes(
		attribute.Float64("rate_shape", params.RateShape),
		attribute.Float64("rate_scale", params.RateScale),
		attribute.Float64("mean_spend", params.MeanSpend),
		attribute.Bool("moment_fallback", params.MomentFallback),
	)

	m.logger.Info("Fitted CLV population priors",
		zap.Int("customers", len(obs)),
		zap.Float64("rate_shape", params.RateShape),
		zap.Float64("rate_scale", params.RateScale),
		zap.Float64("mean_spend", params.MeanSpend),
		zap.Float64("spend_weight", params.SpendWeight),
		zap.Bool("moment_fallback", params.MomentFallback))

	return params, nil
}

// Score projects one customer's value over horizonDays. Cold-start customers
// and customers with zero observed frequency receive the population prior
// directly and are reported low-confidence.
func (m *Model) Score(ctx context.Context, params domain.CLVParams, fv domain.FeatureVector, horizonDays int, discountRate float64) (domain.CLVEstimate, bool) {
	lowConfidence := fv.ColdStart || fv.FrequencyCount <= 0

	// Posterior mean purchase rate per day. With no observations the
	// posterior collapses to the prior mean r/alpha.
	var rate float64
	if lowConfidence {
		rate = params.RateShape / params.RateScale
	} else {
		rate = (params.RateShape + fv.FrequencyCount) / (params.RateScale + fv.TenureDays)
	}

	expectedTransactions := rate * float64(horizonDays)

	// Expected spend per transaction shrinks the customer's observed
	// average toward the population mean; weight grows with evidence.
	spend := params.MeanSpend
	if !lowConfidence {
		q := params.SpendWeight
		x := fv.FrequencyCount
		spend = (q*params.MeanSpend + x*fv.MonetaryAvg) / (q + x)
	}

	value := expectedTransactions * spend
	if discountRate > 0 {
		value *= math.Exp(-discountRate * float64(horizonDays) / 365.0)
	}

	if m.scoresTotal != nil {
		m.scoresTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("low_confidence", lowConfidence),
		))
	}
	if m.estimateDist != nil {
		m.estimateDist.Record(ctx, value)
	}

	return domain.CLVEstimate{Value: value, HorizonDays: horizonDays}, lowConfidence
}
