// Package cohorts groups customers by acquisition month and computes
// per-cohort retention curves.
package cohorts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

const periodLayout = "2006-01"

// Analyzer rebuilds cohort retention curves from customer profiles. Output
// is read-only; every run recomputes from scratch.
type Analyzer struct {
	logger *zap.Logger

	// OTEL instrumentation
	cohortsBuilt metric.Int64Counter
	violations   metric.Int64Counter
}

// NewAnalyzer creates a cohort analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	meter := otel.Meter("lifeline.cohorts")

	cohortsBuilt, err := meter.Int64Counter(
		"cohorts_built_total",
		metric.WithDescription("Total number of cohort curves built"),
	)
	if err != nil {
		logger.Warn("Failed to create cohorts built counter", zap.Error(err))
	}

	violations, err := meter.Int64Counter(
		"cohort_monotonicity_violations_total",
		metric.WithDescription("Retention curves that violated the non-increase invariant"),
	)
	if err != nil {
		logger.Warn("Failed to create violations counter", zap.Error(err))
	}

	return &Analyzer{
		logger:       logger,
		cohortsBuilt: cohortsBuilt,
		violations:   violations,
	}
}

// Analyze groups customers by the calendar month (UTC) of their first
// transaction and computes each cohort's retention curve up to asOf. A
// customer counts as retained at offset k when they transacted in any period
// at offset k or later, so curves are non-increasing by construction; the
// invariant is still checked and a violation is reported as a data
// integrity error.
func (a *Analyzer) Analyze(ctx context.Context, profiles []*domain.CustomerProfile, asOf time.Time) ([]domain.Cohort, error) {
	type cohortData struct {
		customers [][]int // per customer, the period offsets they transacted in
	}

	groups := make(map[string]*cohortData)

	for _, p := range profiles {
		if len(p.Transactions) == 0 {
			continue
		}

		acquired := monthStart(p.Transactions[0].Timestamp)
		key := acquired.Format(periodLayout)

		offsets := make([]int, 0, len(p.Transactions))
		for _, tx := range p.Transactions {
			offsets = append(offsets, monthOffset(acquired, tx.Timestamp))
		}

		group, ok := groups[key]
		if !ok {
			group = &cohortData{}
			groups[key] = group
		}
		group.customers = append(group.customers, offsets)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	results := make([]domain.Cohort, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		acquired, err := time.Parse(periodLayout, key)
		if err != nil {
			return nil, fmt.Errorf("invalid cohort period key %q: %w", key, err)
		}

		observed := monthOffset(acquired, asOf)
		if observed < 0 {
			observed = 0
		}

		cohort := domain.Cohort{
			Period:    key,
			Size:      len(group.customers),
			Retention: make([]float64, observed+1),
		}

		for k := 0; k <= observed; k++ {
			retained := 0
			for _, offsets := range group.customers {
				for _, o := range offsets {
					if o >= k {
						retained++
						break
					}
				}
			}
			cohort.Retention[k] = float64(retained) / float64(cohort.Size)
		}

		if err := cohort.CheckMonotonic(); err != nil {
			if a.violations != nil {
				a.violations.Add(ctx, 1)
			}
			a.logger.Error("Cohort retention curve violates non-increase invariant",
				zap.String("period", key),
				zap.Error(err))
			return nil, fmt.Errorf("cohort data integrity: %w", err)
		}

		results = append(results, cohort)
	}

	if a.cohortsBuilt != nil {
		a.cohortsBuilt.Add(ctx, int64(len(results)))
	}

	a.logger.Info("Built cohort retention curves",
		zap.Int("cohorts", len(results)),
		zap.Time("as_of", asOf))

	return results, nil
}

// monthStart truncates a timestamp to the first day of its month in UTC.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthOffset counts whole calendar months from the acquisition month to t.
func monthOffset(acquired, t time.Time) int {
	t = monthStart(t)
	return (t.Year()-acquired.Year())*12 + int(t.Month()-acquired.Month())
}
