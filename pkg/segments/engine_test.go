package segments

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

func score(id string, recency, frequency, monetary, clv float64, tier domain.RiskTier) CustomerScore {
	return CustomerScore{
		CustomerID: id,
		Features: domain.FeatureVector{
			RecencyDays:    recency,
			FrequencyCount: frequency,
			MonetaryAvg:    monetary,
			MonetaryTotal:  monetary * frequency,
			TenureDays:     365,
		},
		CLV:      clv,
		RiskTier: tier,
	}
}

// spreadPopulation covers low, middle, and high value levels evenly so
// tertile boundaries land between the groups.
func spreadPopulation(n int) []CustomerScore {
	population := make([]CustomerScore, 0, n)
	for i := 0; i < n; i++ {
		level := i % 3
		population = append(population, score(
			fmt.Sprintf("c-%d", i),
			float64(10+level*30),
			float64(1+level*5),
			float64(20+level*50),
			float64(100+level*400),
			domain.RiskTierLow,
		))
	}
	return population
}

func TestComputeCutpoints(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	cp := engine.ComputeCutpoints(spreadPopulation(90))
	assert.Less(t, cp.Recency[0], cp.Recency[1])
	assert.Less(t, cp.Frequency[0], cp.Frequency[1])
	assert.Less(t, cp.Monetary[0], cp.Monetary[1])
	assert.Less(t, cp.CLV[0], cp.CLV[1])
	assert.NotNil(t, engine.Cutpoints())
}

func TestComputeCutpointsSkipsColdStart(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	population := spreadPopulation(30)
	population = append(population, CustomerScore{
		CustomerID: "cold",
		Features:   domain.FeatureVector{ColdStart: true},
	})

	withCold := engine.ComputeCutpoints(population)
	withoutCold := engine.ComputeCutpoints(spreadPopulation(30))

	assert.Equal(t, withoutCold.CLV, withCold.CLV)
	assert.Equal(t, withoutCold.Recency, withCold.Recency)
}

func TestClassifyRuleTable(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	engine.ComputeCutpoints(spreadPopulation(90))
	cp := engine.Cutpoints()
	require.NotNil(t, cp)

	tests := []struct {
		name string
		clv  float64
		tier domain.RiskTier
		want string
	}{
		{"high value low risk", 800, domain.RiskTierLow, SegmentChampions},
		{"high value medium risk", 800, domain.RiskTierMedium, SegmentLoyal},
		{"high value high risk", 800, domain.RiskTierHigh, SegmentHighValueAtRisk},
		{"mid value low risk", 500, domain.RiskTierLow, SegmentSteady},
		{"mid value medium risk", 500, domain.RiskTierMedium, SegmentCooling},
		{"mid value high risk", 500, domain.RiskTierHigh, SegmentAtRisk},
		{"low value low risk", 100, domain.RiskTierLow, SegmentBudget},
		{"low value medium risk", 100, domain.RiskTierMedium, SegmentHibernating},
		{"low value high risk", 100, domain.RiskTierHigh, SegmentLostLikely},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := score("x", 10, 3, 40, tt.clv, tt.tier)
			assert.Equal(t, tt.want, engine.classify(c, cp))
		})
	}
}

func TestClassifyNewCustomerOverride(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	engine.ComputeCutpoints(spreadPopulation(90))

	young := score("young", 2, 2, 100, 900, domain.RiskTierLow)
	young.Features.TenureDays = 10
	assert.Equal(t, SegmentNew, engine.classify(young, engine.Cutpoints()))

	cold := CustomerScore{CustomerID: "cold", Features: domain.FeatureVector{ColdStart: true}}
	assert.Equal(t, SegmentNew, engine.classify(cold, engine.Cutpoints()))
}

func TestAssignBatch(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	population := spreadPopulation(90)

	assignments, summaries, migrations := engine.AssignBatch(context.Background(), population)

	require.Len(t, assignments, 90)
	assert.Empty(t, migrations, "first run has no previous assignments to migrate from")

	total := 0
	for _, s := range summaries {
		assert.NotEmpty(t, s.ID)
		total += s.Population
	}
	assert.Equal(t, 90, total)

	for _, a := range assignments {
		assert.NotEmpty(t, a.SegmentID)
		for _, rfm := range a.RFM {
			assert.GreaterOrEqual(t, rfm, 1)
			assert.LessOrEqual(t, rfm, 3)
		}
	}
}

func TestAssignTracksMigration(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	population := spreadPopulation(90)

	_, _, migrations := engine.AssignBatch(context.Background(), population)
	require.Empty(t, migrations)

	// Same customer, risk tier worsens: migration recorded with both sides.
	moved := population
	for i := range moved {
		if moved[i].CustomerID == "c-2" { // high value level
			moved[i].RiskTier = domain.RiskTierHigh
		}
	}

	_, _, migrations = engine.AssignBatch(context.Background(), moved)
	require.Len(t, migrations, 1)
	assert.Equal(t, "c-2", migrations[0].CustomerID)
	assert.Equal(t, SegmentChampions, migrations[0].PreviousSegmentID)
	assert.Equal(t, SegmentHighValueAtRisk, migrations[0].NewSegmentID)
	assert.False(t, migrations[0].OccurredAt.IsZero())
}

func TestPreviewDoesNotRecordAssignment(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	population := spreadPopulation(90)

	_, _, migrations := engine.AssignBatch(context.Background(), population)
	require.Empty(t, migrations)

	// On-demand preview of a worsened customer classifies correctly but
	// must not become their recorded "previous" segment.
	worsened := population[2] // c-2, high value level, champions
	worsened.RiskTier = domain.RiskTierHigh

	preview := engine.Preview(worsened)
	assert.Equal(t, SegmentHighValueAtRisk, preview.SegmentID)
	for _, rfm := range preview.RFM {
		assert.GreaterOrEqual(t, rfm, 1)
		assert.LessOrEqual(t, rfm, 3)
	}

	// The next recorded assignment still migrates from champions, proving
	// the preview left the previous-assignment state untouched.
	_, migration := engine.Assign(context.Background(), worsened)
	require.NotNil(t, migration)
	assert.Equal(t, SegmentChampions, migration.PreviousSegmentID)
	assert.Equal(t, SegmentHighValueAtRisk, migration.NewSegmentID)
}

func TestPopulationShiftMovesBoundaries(t *testing.T) {
	// The customer does not change; the population around them gets richer.
	// Their segment drops because boundaries are population-relative.
	engine := NewEngine(zap.NewNop())

	steady := score("steady", 10, 3, 40, 300, domain.RiskTierLow)

	poor := []CustomerScore{steady}
	for i := 0; i < 30; i++ {
		poor = append(poor, score(fmt.Sprintf("p-%d", i), 20, 2, 20, 50, domain.RiskTierLow))
	}
	assignments, _, _ := engine.AssignBatch(context.Background(), poor)
	assert.Equal(t, SegmentChampions, assignments[0].SegmentID)

	rich := []CustomerScore{steady}
	for i := 0; i < 30; i++ {
		rich = append(rich, score(fmt.Sprintf("r-%d", i), 5, 10, 90, 2000, domain.RiskTierLow))
	}
	assignments, _, migrations := engine.AssignBatch(context.Background(), rich)
	assert.Equal(t, SegmentBudget, assignments[0].SegmentID)

	found := false
	for _, m := range migrations {
		if m.CustomerID == "steady" {
			found = true
			assert.Equal(t, SegmentChampions, m.PreviousSegmentID)
			assert.Equal(t, SegmentBudget, m.NewSegmentID)
		}
	}
	assert.True(t, found, "population shift must produce a migration event")
}

func TestAssignWithoutCutpoints(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	assignment, migration := engine.Assign(context.Background(), score("solo", 10, 3, 40, 300, domain.RiskTierLow))
	assert.Equal(t, SegmentSteady, assignment.SegmentID) // middle value by default
	assert.Nil(t, migration)
}

func TestTertilesAndQuantileScore(t *testing.T) {
	bounds := tertiles([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.Less(t, bounds[0], bounds[1])

	assert.Equal(t, 1, quantileScore(bounds[0]-1, bounds))
	assert.Equal(t, 2, quantileScore((bounds[0]+bounds[1])/2, bounds))
	assert.Equal(t, 3, quantileScore(bounds[1]+1, bounds))

	assert.Equal(t, [2]float64{0, 0}, tertiles(nil))
	single := tertiles([]float64{7})
	assert.Equal(t, [2]float64{7, 7}, single)
}
