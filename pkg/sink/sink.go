// Package sink delivers prediction results to downstream consumers: the
// campaign-trigger/API boundary over NATS, or an in-memory collector for
// tests and CLI output.
package sink

import (
	"context"
	"sync"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// Sink receives prediction results as they are produced.
type Sink interface {
	Publish(ctx context.Context, result *domain.PredictionResult) error
}

// Memory collects results in memory. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	results []*domain.PredictionResult
}

// NewMemory creates an in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish stores the result.
func (m *Memory) Publish(_ context.Context, result *domain.PredictionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

// Results returns a snapshot of everything published so far.
func (m *Memory) Results() []*domain.PredictionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.PredictionResult, len(m.results))
	copy(out, m.results)
	return out
}
