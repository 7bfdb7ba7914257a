package scoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lifeline/pkg/domain"
)

func poolProfiles(n int) []*domain.CustomerProfile {
	profiles := make([]*domain.CustomerProfile, 0, n)
	for i := 0; i < n; i++ {
		profiles = append(profiles, &domain.CustomerProfile{
			CustomerID: fmt.Sprintf("c-%d", i),
		})
	}
	return profiles
}

func TestScorePoolScoresAll(t *testing.T) {
	pool := newScorePool(4, 16)

	scored, failed, err := pool.run(context.Background(), poolProfiles(100),
		func(ctx context.Context, p *domain.CustomerProfile) (*domain.PredictionResult, error) {
			return &domain.PredictionResult{CustomerID: p.CustomerID}, nil
		})

	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Len(t, scored, 100)

	seen := make(map[string]bool)
	for _, sc := range scored {
		seen[sc.result.CustomerID] = true
	}
	assert.Len(t, seen, 100, "every customer scored exactly once")
}

func TestScorePoolIsolatesFailures(t *testing.T) {
	pool := newScorePool(4, 0)

	scored, failed, err := pool.run(context.Background(), poolProfiles(50),
		func(ctx context.Context, p *domain.CustomerProfile) (*domain.PredictionResult, error) {
			if p.CustomerID == "c-7" || p.CustomerID == "c-23" {
				return nil, fmt.Errorf("bad features")
			}
			return &domain.PredictionResult{CustomerID: p.CustomerID}, nil
		})

	require.NoError(t, err, "per-customer failures never fail the pool")
	assert.Equal(t, 2, failed)
	assert.Len(t, scored, 48)
}

func TestScorePoolCancellation(t *testing.T) {
	pool := newScorePool(2, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scored, _, err := pool.run(ctx, poolProfiles(100),
		func(ctx context.Context, p *domain.CustomerProfile) (*domain.PredictionResult, error) {
			return &domain.PredictionResult{CustomerID: p.CustomerID}, nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(scored), 100, "cancellation stops dispatch before the full population")
}

func TestScorePoolZeroWorkers(t *testing.T) {
	pool := newScorePool(0, 0)

	scored, _, err := pool.run(context.Background(), poolProfiles(10),
		func(ctx context.Context, p *domain.CustomerProfile) (*domain.PredictionResult, error) {
			return &domain.PredictionResult{CustomerID: p.CustomerID}, nil
		})

	require.NoError(t, err)
	assert.Len(t, scored, 10)
}
