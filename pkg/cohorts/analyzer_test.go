package cohorts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

func at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func profileWith(id string, stamps ...time.Time) *domain.CustomerProfile {
	p := &domain.CustomerProfile{CustomerID: id}
	for _, ts := range stamps {
		p.Transactions = append(p.Transactions, domain.Transaction{
			CustomerID: id,
			Timestamp:  ts,
			Amount:     10,
		})
	}
	p.SortTransactions()
	return p
}

func TestAnalyze(t *testing.T) {
	analyzer := NewAnalyzer(zap.NewNop())
	asOf := at(2026, time.April, 15)

	profiles := []*domain.CustomerProfile{
		// January cohort: one customer active through March, one who stops
		// after the first month.
		profileWith("a", at(2026, time.January, 5), at(2026, time.February, 10), at(2026, time.March, 20)),
		profileWith("b", at(2026, time.January, 25)),
		// February cohort: single customer, one purchase.
		profileWith("c", at(2026, time.February, 3)),
	}

	cohorts, err := analyzer.Analyze(context.Background(), profiles, asOf)
	require.NoError(t, err)
	require.Len(t, cohorts, 2)

	jan := cohorts[0]
	assert.Equal(t, "2026-01", jan.Period)
	assert.Equal(t, 2, jan.Size)
	// Offsets 0..3 (January through April).
	require.Len(t, jan.Retention, 4)
	assert.InDelta(t, 1.0, jan.Retention[0], 1e-9)
	assert.InDelta(t, 0.5, jan.Retention[1], 1e-9) // only "a" transacted past January
	assert.InDelta(t, 0.5, jan.Retention[2], 1e-9)
	assert.InDelta(t, 0.0, jan.Retention[3], 1e-9) // nobody reached April

	feb := cohorts[1]
	assert.Equal(t, "2026-02", feb.Period)
	assert.Equal(t, 1, feb.Size)
	require.Len(t, feb.Retention, 3)
	assert.InDelta(t, 1.0, feb.Retention[0], 1e-9)
	assert.InDelta(t, 0.0, feb.Retention[1], 1e-9)
}

func TestAnalyzeCurvesNonIncreasing(t *testing.T) {
	analyzer := NewAnalyzer(zap.NewNop())
	asOf := at(2026, time.June, 1)

	// Customers with sparse, gappy activity. Survivor-style counting keeps
	// the curves non-increasing even when activity has holes.
	profiles := []*domain.CustomerProfile{
		profileWith("a", at(2026, time.January, 5), at(2026, time.May, 1)),
		profileWith("b", at(2026, time.January, 8), at(2026, time.March, 2)),
		profileWith("c", at(2026, time.January, 9)),
		profileWith("d", at(2026, time.February, 1), at(2026, time.April, 20)),
	}

	cohorts, err := analyzer.Analyze(context.Background(), profiles, asOf)
	require.NoError(t, err)

	for _, cohort := range cohorts {
		require.NoError(t, cohort.CheckMonotonic())
		assert.InDelta(t, 1.0, cohort.Retention[0], 1e-9,
			"offset zero is the acquisition month itself")
	}
}

func TestAnalyzeGroupsByCalendarMonthUTC(t *testing.T) {
	analyzer := NewAnalyzer(zap.NewNop())

	// 2026-01-31 23:30 in UTC-5 is already February in UTC.
	est := time.FixedZone("EST", -5*3600)
	profiles := []*domain.CustomerProfile{
		profileWith("edge", time.Date(2026, time.January, 31, 23, 30, 0, 0, est)),
	}

	cohorts, err := analyzer.Analyze(context.Background(), profiles, at(2026, time.February, 15))
	require.NoError(t, err)
	require.Len(t, cohorts, 1)
	assert.Equal(t, "2026-02", cohorts[0].Period)
}

func TestAnalyzeSkipsEmptyProfiles(t *testing.T) {
	analyzer := NewAnalyzer(zap.NewNop())

	profiles := []*domain.CustomerProfile{
		{CustomerID: "empty"},
		profileWith("real", at(2026, time.March, 1)),
	}

	cohorts, err := analyzer.Analyze(context.Background(), profiles, at(2026, time.March, 20))
	require.NoError(t, err)
	require.Len(t, cohorts, 1)
	assert.Equal(t, 1, cohorts[0].Size)
}

func TestAnalyzeNoProfiles(t *testing.T) {
	analyzer := NewAnalyzer(zap.NewNop())

	cohorts, err := analyzer.Analyze(context.Background(), nil, at(2026, time.March, 1))
	require.NoError(t, err)
	assert.Empty(t, cohorts)
}

func TestMonthOffset(t *testing.T) {
	jan := monthStart(at(2026, time.January, 15))

	assert.Equal(t, 0, monthOffset(jan, at(2026, time.January, 31)))
	assert.Equal(t, 1, monthOffset(jan, at(2026, time.February, 1)))
	assert.Equal(t, 11, monthOffset(jan, at(2026, time.December, 25)))
	assert.Equal(t, 12, monthOffset(jan, at(2027, time.January, 2)))
	assert.Equal(t, -1, monthOffset(jan, at(2025, time.December, 31)))
}
