package churn

import (
	"math"
	"sort"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// buildSurvivalCurve computes the empirical retention curve by tenure bucket:
// among customers whose tenure reached a bucket, the fraction still active.
// A customer counts as active when their recency is within the activity
// window (grace factor times their mean interpurchase gap, floored at the
// bucket width). The curve is forced non-increasing with a running minimum,
// matching the survival interpretation.
func buildSurvivalCurve(profiles []*domain.CustomerProfile, bucketDays, graceFactor float64) []domain.SurvivalBucket {
	maxTenure := 0.0
	for _, p := range profiles {
		if !p.Features.ColdStart && p.Features.TenureDays > maxTenure {
			maxTenure = p.Features.TenureDays
		}
	}

	bucketCount := int(math.Ceil(maxTenure/bucketDays)) + 1
	curve := make([]domain.SurvivalBucket, 0, bucketCount)

	for k := 0; k < bucketCount; k++ {
		tenure := float64(k) * bucketDays
		reached := 0
		active := 0

		for _, p := range profiles {
			fv := p.Features
			if fv.ColdStart || fv.TenureDays < tenure {
				continue
			}
			reached++

			window := graceFactor * fv.InterpurchaseMeanDays
			if window < bucketDays {
				window = bucketDays
			}
			if fv.RecencyDays <= window {
				active++
			}
		}

		retention := 1.0
		if reached > 0 {
			retention = float64(active) / float64(reached)
		}
		curve = append(curve, domain.SurvivalBucket{TenureDays: tenure, Retention: retention})
	}

	// Enforce monotone non-increase.
	for i := 1; i < len(curve); i++ {
		if curve[i].Retention > curve[i-1].Retention {
			curve[i].Retention = curve[i-1].Retention
		}
	}

	return curve
}

// retentionAt looks up the retention level for a tenure, using the last
// bucket the tenure has reached.
func retentionAt(curve []domain.SurvivalBucket, tenureDays float64) float64 {
	if len(curve) == 0 {
		return 1.0
	}

	idx := sort.Search(len(curve), func(i int) bool {
		return curve[i].TenureDays > tenureDays
	})
	if idx == 0 {
		return curve[0].Retention
	}
	return curve[idx-1].Retention
}

// survivalRaw combines the population hazard at the customer's tenure with a
// recency pressure term. Pressure grows with recency relative to the
// customer's own purchase cadence, so the raw signal is monotone
// non-decreasing in recency by construction.
func survivalRaw(curve []domain.SurvivalBucket, fv domain.FeatureVector, pressureScale float64) float64 {
	hazard := 1.0 - retentionAt(curve, fv.TenureDays)

	cadence := fv.InterpurchaseMeanDays
	if cadence <= 0 {
		cadence = 30 // single-purchase customers: assume a monthly cadence
	}

	pressure := 1.0 - math.Exp(-fv.RecencyDays/(cadence*pressureScale))

	return hazard + (1.0-hazard)*pressure
}
