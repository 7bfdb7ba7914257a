package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// NATSPublisher publishes prediction results as JSON messages on
// <prefix>.<risk_tier> subjects so campaign-trigger consumers can subscribe
// by tier.
type NATSPublisher struct {
	logger *zap.Logger
	nc     *nats.Conn
	prefix string

	published int64
	failed    int64
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(logger *zap.Logger, url, subjectPrefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("lifeline-publisher"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("Connected to NATS",
		zap.String("url", url),
		zap.String("subject_prefix", subjectPrefix))

	return &NATSPublisher{
		logger: logger,
		nc:     nc,
		prefix: subjectPrefix,
	}, nil
}

// Publish sends one result. Publish failures are reported to the caller;
// batch runs count them against the run summary instead of aborting.
func (p *NATSPublisher) Publish(ctx context.Context, result *domain.PredictionResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		return fmt.Errorf("failed to marshal prediction result: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, result.RiskTier)
	if err := p.nc.Publish(subject, data); err != nil {
		atomic.AddInt64(&p.failed, 1)
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	atomic.AddInt64(&p.published, 1)
	return nil
}

// Stats returns published and failed message counts.
func (p *NATSPublisher) Stats() (published, failed int64) {
	return atomic.LoadInt64(&p.published), atomic.LoadInt64(&p.failed)
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", zap.Error(err))
	}
	p.nc.Close()
}
