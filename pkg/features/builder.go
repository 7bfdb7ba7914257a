// Package features turns raw transaction records into typed per-customer
// feature vectors. The transform is pure: nothing is persisted or mutated
// outside the profiles it returns.
package features

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

const hoursPerDay = 24.0

// Builder computes feature vectors from transaction history.
type Builder struct {
	logger *zap.Logger

	// OTEL instrumentation
	vectorsBuilt    metric.Int64Counter
	recordsRejected metric.Int64Counter
}

// BuildSummary reports per-record outcomes for one build pass. Malformed
// records are counted and skipped, never fatal.
type BuildSummary struct {
	RecordsRead     int
	RecordsRejected int
	Customers       int
	ColdStart       int
}

// NewBuilder creates a feature builder.
func NewBuilder(logger *zap.Logger) *Builder {
	meter := otel.Meter("lifeline.features")

	vectorsBuilt, err := meter.Int64Counter(
		"feature_vectors_built_total",
		metric.WithDescription("Total number of feature vectors built"),
	)
	if err != nil {
		logger.Warn("Failed to create vectors built counter", zap.Error(err))
	}

	recordsRejected, err := meter.Int64Counter(
		"feature_records_rejected_total",
		metric.WithDescription("Total number of malformed transaction records rejected"),
	)
	if err != nil {
		logger.Warn("Failed to create records rejected counter", zap.Error(err))
	}

	return &Builder{
		logger:          logger,
		vectorsBuilt:    vectorsBuilt,
		recordsRejected: recordsRejected,
	}
}

// Schema returns the feature schema the builder emits. The registry checks
// artifact schemas against this at registration time.
func (b *Builder) Schema() []string {
	return domain.FeatureSchema
}

// BuildProfiles groups transactions by customer, drops malformed records,
// and computes one feature vector per customer. Observation time asOf anchors
// recency and tenure.
func (b *Builder) BuildProfiles(ctx context.Context, records []domain.Transaction, asOf time.Time) ([]*domain.CustomerProfile, BuildSummary) {
	summary := BuildSummary{RecordsRead: len(records)}

	byCustomer := make(map[string]*domain.CustomerProfile)
	order := make([]string, 0)

	for i := range records {
		rec := records[i]
		if err := rec.Validate(); err != nil {
			summary.RecordsRejected++
			if b.recordsRejected != nil {
				b.recordsRejected.Add(ctx, 1)
			}
			b.logger.Debug("Rejected transaction record",
				zap.String("customer_id", rec.CustomerID),
				zap.Error(err))
			continue
		}

		profile, ok := byCustomer[rec.CustomerID]
		if !ok {
			profile = &domain.CustomerProfile{CustomerID: rec.CustomerID}
			byCustomer[rec.CustomerID] = profile
			order = append(order, rec.CustomerID)
		}
		profile.Transactions = append(profile.Transactions, rec)
	}

	profiles := make([]*domain.CustomerProfile, 0, len(order))
	for _, id := range order {
		profile := byCustomer[id]
		profile.SortTransactions()
		profile.Features = b.Build(ctx, profile, asOf)
		if profile.Features.ColdStart {
			summary.ColdStart++
		}
		profiles = append(profiles, profile)
	}

	summary.Customers = len(profiles)
	return profiles, summary
}

// Build computes the feature vector for one profile. Transactions must
// already be sorted; callers going through BuildProfiles get that for free.
func (b *Builder) Build(ctx context.Context, profile *domain.CustomerProfile, asOf time.Time) domain.FeatureVector {
	if len(profile.Transactions) == 0 {
		if b.vectorsBuilt != nil {
			b.vectorsBuilt.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cold_start", true)))
		}
		return domain.FeatureVector{ColdStart: true}
	}

	first := profile.Transactions[0].Timestamp
	last := profile.Transactions[len(profile.Transactions)-1].Timestamp

	fv := domain.FeatureVector{
		RecencyDays:    asOf.Sub(last).Hours() / hoursPerDay,
		FrequencyCount: float64(len(profile.Transactions)),
		TenureDays:     asOf.Sub(first).Hours() / hoursPerDay,
	}
	if fv.RecencyDays < 0 {
		fv.RecencyDays = 0
	}
	if fv.TenureDays < 0 {
		fv.TenureDays = 0
	}

	total := 0.0
	for _, tx := range profile.Transactions {
		total += tx.Amount
	}
	fv.MonetaryTotal = total
	fv.MonetaryAvg = total / float64(len(profile.Transactions))

	fv.InterpurchaseMeanDays = meanInterpurchaseDays(profile.Transactions)
	fv.AmountTrend = amountTrend(profile.Transactions)

	if b.vectorsBuilt != nil {
		b.vectorsBuilt.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cold_start", false)))
	}

	return fv
}

// meanInterpurchaseDays averages the gaps between consecutive transactions.
// Single-purchase customers have no gap and get zero.
func meanInterpurchaseDays(txs []domain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}

	totalGap := 0.0
	for i := 1; i < len(txs); i++ {
		totalGap += txs[i].Timestamp.Sub(txs[i-1].Timestamp).Hours() / hoursPerDay
	}
	return totalGap / float64(len(txs)-1)
}

// amountTrend is the least-squares slope of transaction amounts over their
// order index: positive when spend is growing, negative when shrinking.
func amountTrend(txs []domain.Transaction) float64 {
	n := float64(len(txs))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, tx := range txs {
		x := float64(i)
		sumX += x
		sumY += tx.Amount
		sumXY += x * tx.Amount
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
