package scoring

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// scoredCustomer pairs one customer's result with the inputs segmentation
// needs afterwards.
type scoredCustomer struct {
	profile *domain.CustomerProfile
	result  *domain.PredictionResult
}

// scoreFunc computes one customer's prediction. Stateless across customers,
// so the pool can fan units out freely.
type scoreFunc func(ctx context.Context, profile *domain.CustomerProfile) (*domain.PredictionResult, error)

// scorePool fans independent per-customer scoring units across a bounded
// worker set. Ordering across customers is irrelevant; within one customer
// the pipeline stages run strictly in order inside the score function.
// Cancellation is cooperative: workers check the context between customer
// units and never abandon a unit mid-flight.
type scorePool struct {
	workers   int
	queueSize int
	failed    int64
}

func newScorePool(workers, queueSize int) *scorePool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &scorePool{workers: workers, queueSize: queueSize}
}

// run scores every profile and returns the successful results plus the
// failure count. A cancelled context stops dispatch between units and
// returns the context error.
func (p *scorePool) run(ctx context.Context, profiles []*domain.CustomerProfile, score scoreFunc) ([]scoredCustomer, int, error) {
	jobs := make(chan *domain.CustomerProfile, p.queueSize)
	results := make(chan scoredCustomer, len(profiles))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for profile := range jobs {
				result, err := score(ctx, profile)
				if err != nil {
					atomic.AddInt64(&p.failed, 1)
					continue
				}
				results <- scoredCustomer{profile: profile, result: result}
			}
		}()
	}

	var dispatchErr error
dispatch:
	for _, profile := range profiles {
		select {
		case <-ctx.Done():
			dispatchErr = ctx.Err()
			break dispatch
		case jobs <- profile:
		}
	}
	close(jobs)

	wg.Wait()
	close(results)

	scored := make([]scoredCustomer, 0, len(profiles))
	for sc := range results {
		scored = append(scored, sc)
	}

	return scored, int(atomic.LoadInt64(&p.failed)), dispatchErr
}
