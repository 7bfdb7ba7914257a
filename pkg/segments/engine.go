// Package segments assigns customers to named value/behavior segments from
// RFM quantiles, CLV estimates, and churn risk. Cut-points are recomputed
// from the current population on every batch run, so boundaries are
// population-relative: a customer can change segments across runs without
// any change in their own behavior, purely because the population shifted.
// That is expected behavior, not a bug.
package segments

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// Segment identifiers. The set is fixed; membership is population-relative.
const (
	SegmentNew             = "new"
	SegmentChampions       = "champions"
	SegmentLoyal           = "loyal"
	SegmentHighValueAtRisk = "high_value_at_risk"
	SegmentSteady          = "steady"
	SegmentCooling         = "cooling"
	SegmentAtRisk          = "at_risk"
	SegmentBudget          = "budget"
	SegmentHibernating     = "hibernating"
	SegmentLostLikely      = "lost_likely"
)

// newCustomerTenureDays is the tenure below which a customer is always
// assigned to the "new" segment regardless of value and risk.
const newCustomerTenureDays = 30

// CustomerScore is the per-customer input to segmentation: features plus the
// model outputs segmentation consumes.
type CustomerScore struct {
	CustomerID       string
	Features         domain.FeatureVector
	CLV              float64
	ChurnProbability float64
	RiskTier         domain.RiskTier
}

// Cutpoints are the population-relative quantile boundaries for one run.
type Cutpoints struct {
	Recency   [2]float64 // tertile boundaries, ascending
	Frequency [2]float64
	Monetary  [2]float64
	CLV       [2]float64
	Computed  time.Time
}

// Assignment is one customer's segment for a run, with the RFM quantile
// scores that produced it.
type Assignment struct {
	CustomerID string
	SegmentID  string
	RFM        [3]int // recency, frequency, monetary scores, each 1-3
}

// Engine assigns segments and tracks migration across runs. Cut-points from
// the most recent batch run also serve on-demand single-customer calls.
type Engine struct {
	logger *zap.Logger

	mu        sync.RWMutex
	cutpoints *Cutpoints
	previous  map[string]string

	// OTEL instrumentation
	assignmentsTotal metric.Int64Counter
	migrationsTotal  metric.Int64Counter
}

// NewEngine creates a segmentation engine.
func NewEngine(logger *zap.Logger) *Engine {
	meter := otel.Meter("lifeline.segments")

	assignmentsTotal, err := meter.Int64Counter(
		"segment_assignments_total",
		metric.WithDescription("Total number of segment assignments"),
	)
	if err != nil {
		logger.Warn("Failed to create assignments counter", zap.Error(err))
	}

	migrationsTotal, err := meter.Int64Counter(
		"segment_migrations_total",
		metric.WithDescription("Total number of segment migration events"),
	)
	if err != nil {
		logger.Warn("Failed to create migrations counter", zap.Error(err))
	}

	return &Engine{
		logger:           logger,
		previous:         make(map[string]string),
		assignmentsTotal: assignmentsTotal,
		migrationsTotal:  migrationsTotal,
	}
}

// ComputeCutpoints derives fresh tertile boundaries from the current
// population and installs them for subsequent assignments.
func (e *Engine) ComputeCutpoints(population []CustomerScore) Cutpoints {
	recency := make([]float64, 0, len(population))
	frequency := make([]float64, 0, len(population))
	monetary := make([]float64, 0, len(population))
	clv := make([]float64, 0, len(population))

	for _, c := range population {
		if c.Features.ColdStart {
			continue
		}
		recency = append(recency, c.Features.RecencyDays)
		frequency = append(frequency, c.Features.FrequencyCount)
		monetary = append(monetary, c.Features.MonetaryAvg)
		clv = append(clv, c.CLV)
	}

	cp := Cutpoints{
		Recency:   tertiles(recency),
		Frequency: tertiles(frequency),
		Monetary:  tertiles(monetary),
		CLV:       tertiles(clv),
		Computed:  time.Now(),
	}

	e.mu.Lock()
	e.cutpoints = &cp
	e.mu.Unlock()

	return cp
}

// AssignBatch recomputes cut-points from the population, assigns every
// customer, and returns assignments, segment population summaries, and the
// migration events against previous assignments.
func (e *Engine) AssignBatch(ctx context.Context, population []CustomerScore) ([]Assignment, []domain.Segment, []domain.SegmentMigration) {
	e.ComputeCutpoints(population)

	assignments := make([]Assignment, 0, len(population))
	var migrations []domain.SegmentMigration
	counts := make(map[string]int)

	for _, c := range population {
		assignment, migration := e.Assign(ctx, c)
		assignments = append(assignments, assignment)
		counts[assignment.SegmentID]++
		if migration != nil {
			migrations = append(migrations, *migration)
		}
	}

	summaries := make([]domain.Segment, 0, len(counts))
	for _, id := range allSegmentIDs() {
		if counts[id] == 0 {
			continue
		}
		summaries = append(summaries, domain.Segment{
			ID:         id,
			Name:       id,
			Population: counts[id],
		})
	}

	e.logger.Info("Segmented population",
		zap.Int("customers", len(population)),
		zap.Int("segments", len(summaries)),
		zap.Int("migrations", len(migrations)))

	return assignments, summaries, migrations
}

// Assign places one customer using the currently installed cut-points and
// records a migration event when the segment changed since the previous run.
func (e *Engine) Assign(ctx context.Context, c CustomerScore) (Assignment, *domain.SegmentMigration) {
	assignment := e.computeAssignment(c)

	if e.assignmentsTotal != nil {
		e.assignmentsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("segment", assignment.SegmentID),
		))
	}

	var migration *domain.SegmentMigration
	e.mu.Lock()
	prev, seen := e.previous[c.CustomerID]
	e.previous[c.CustomerID] = assignment.SegmentID
	e.mu.Unlock()

	if seen && prev != assignment.SegmentID {
		migration = &domain.SegmentMigration{
			CustomerID:        c.CustomerID,
			PreviousSegmentID: prev,
			NewSegmentID:      assignment.SegmentID,
			OccurredAt:        time.Now(),
		}
		if e.migrationsTotal != nil {
			e.migrationsTotal.Add(ctx, 1)
		}
	}

	return assignment, migration
}

// Preview computes a customer's segment against the installed cut-points
// without recording it. On-demand reads use this so they never overwrite the
// previous-assignment state that batch migration reporting depends on.
func (e *Engine) Preview(c CustomerScore) Assignment {
	return e.computeAssignment(c)
}

// computeAssignment derives the RFM scores and segment for one customer from
// the currently installed cut-points.
func (e *Engine) computeAssignment(c CustomerScore) Assignment {
	e.mu.RLock()
	cp := e.cutpoints
	e.mu.RUnlock()

	assignment := Assignment{CustomerID: c.CustomerID}
	if cp != nil {
		// Recency score is inverted: recent purchases score high.
		assignment.RFM = [3]int{
			4 - quantileScore(c.Features.RecencyDays, cp.Recency),
			quantileScore(c.Features.FrequencyCount, cp.Frequency),
			quantileScore(c.Features.MonetaryAvg, cp.Monetary),
		}
	}
	assignment.SegmentID = e.classify(c, cp)
	return assignment
}

// classify applies the deterministic rule table: value level from the CLV
// tertile, risk from the tier, with a tenure override for new customers.
func (e *Engine) classify(c CustomerScore, cp *Cutpoints) string {
	if c.Features.ColdStart || c.Features.TenureDays < newCustomerTenureDays {
		return SegmentNew
	}

	valueLevel := 2
	if cp != nil {
		valueLevel = quantileScore(c.CLV, cp.CLV)
	}

	switch valueLevel {
	case 3:
		switch c.RiskTier {
		case domain.RiskTierLow:
			return SegmentChampions
		case domain.RiskTierMedium:
			return SegmentLoyal
		default:
			return SegmentHighValueAtRisk
		}
	case 2:
		switch c.RiskTier {
		case domain.RiskTierLow:
			return SegmentSteady
		case domain.RiskTierMedium:
			return SegmentCooling
		default:
			return SegmentAtRisk
		}
	default:
		switch c.RiskTier {
		case domain.RiskTierLow:
			return SegmentBudget
		case domain.RiskTierMedium:
			return SegmentHibernating
		default:
			return SegmentLostLikely
		}
	}
}

// Cutpoints returns the currently installed cut-points, or nil before the
// first batch run.
func (e *Engine) Cutpoints() *Cutpoints {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cutpoints
}

// tertiles returns the 1/3 and 2/3 quantile boundaries of values.
func tertiles(values []float64) [2]float64 {
	if len(values) == 0 {
		return [2]float64{0, 0}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return [2]float64{
		quantile(sorted, 1.0/3.0),
		quantile(sorted, 2.0/3.0),
	}
}

// quantile reads the q-th quantile from sorted values with linear
// interpolation.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// quantileScore buckets a value against tertile boundaries into 1 (low),
// 2 (middle), or 3 (high).
func quantileScore(value float64, bounds [2]float64) int {
	switch {
	case value > bounds[1]:
		return 3
	case value > bounds[0]:
		return 2
	default:
		return 1
	}
}

func allSegmentIDs() []string {
	return []string{
		SegmentNew,
		SegmentChampions,
		SegmentLoyal,
		SegmentHighValueAtRisk,
		SegmentSteady,
		SegmentCooling,
		SegmentAtRisk,
		SegmentBudget,
		SegmentHibernating,
		SegmentLostLikely,
	}
}
