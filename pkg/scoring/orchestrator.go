// Package scoring coordinates the feature builder, CLV model, churn
// ensemble, segmentation engine, and cohort analyzer into complete scoring
// runs: population batches or bounded-latency on-demand calls.
package scoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/churn"
	"github.com/yairfalse/lifeline/pkg/clv"
	"github.com/yairfalse/lifeline/pkg/cohorts"
	"github.com/yairfalse/lifeline/pkg/config"
	"github.com/yairfalse/lifeline/pkg/domain"
	"github.com/yairfalse/lifeline/pkg/features"
	"github.com/yairfalse/lifeline/pkg/registry"
	"github.com/yairfalse/lifeline/pkg/segments"
	"github.com/yairfalse/lifeline/pkg/sink"
)

// BatchResult is everything a batch run produces.
type BatchResult struct {
	Run        *Run
	Results    []*domain.PredictionResult
	Segments   []domain.Segment
	Migrations []domain.SegmentMigration
	Cohorts    []domain.Cohort
}

// Orchestrator owns the lifecycle of scoring runs.
type Orchestrator struct {
	logger *zap.Logger
	cfg    *config.Config

	builder  *features.Builder
	clvModel *clv.Model
	ensemble *churn.Ensemble
	segments *segments.Engine
	cohorts  *cohorts.Analyzer
	registry *registry.Registry
	sink     sink.Sink

	cache *featureCache

	// nowFn is swappable in tests for deterministic timestamps.
	nowFn func() time.Time

	// OTEL instrumentation
	tracer       trace.Tracer
	runsTotal    metric.Int64Counter
	runDuration  metric.Float64Histogram
	realtimeOver metric.Int64Counter
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(
	logger *zap.Logger,
	cfg *config.Config,
	builder *features.Builder,
	clvModel *clv.Model,
	ensemble *churn.Ensemble,
	segEngine *segments.Engine,
	cohortAnalyzer *cohorts.Analyzer,
	reg *registry.Registry,
	resultSink sink.Sink,
) *Orchestrator {
	tracer := otel.Tracer("lifeline.scoring")
	meter := otel.Meter("lifeline.scoring")

	runsTotal, err := meter.Int64Counter(
		"scoring_runs_total",
		metric.WithDescription("Total number of scoring runs"),
	)
	if err != nil {
		logger.Warn("Failed to create runs counter", zap.Error(err))
	}

	runDuration, err := meter.Float64Histogram(
		"scoring_run_duration_ms",
		metric.WithDescription("Scoring run duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("Failed to create run duration histogram", zap.Error(err))
	}

	realtimeOver, err := meter.Int64Counter(
		"scoring_realtime_timeouts_total",
		metric.WithDescription("On-demand scoring calls aborted over the latency budget"),
	)
	if err != nil {
		logger.Warn("Failed to create realtime timeout counter", zap.Error(err))
	}

	return &Orchestrator{
		logger:       logger,
		cfg:          cfg,
		builder:      builder,
		clvModel:     clvModel,
		ensemble:     ensemble,
		segments:     segEngine,
		cohorts:      cohortAnalyzer,
		registry:     reg,
		sink:         resultSink,
		cache:        newFeatureCache(time.Duration(cfg.Scoring.FeatureFreshnessSeconds) * time.Second),
		nowFn:        time.Now,
		tracer:       tracer,
		runsTotal:    runsTotal,
		runDuration:  runDuration,
		realtimeOver: realtimeOver,
	}
}

// ScoreBatch scores an entire customer population. modelVersion pins a
// specific artifact; empty follows the latest active version. The artifact
// reference is acquired once at run start, so a concurrent Activate never
// changes the version seen by this run.
func (o *Orchestrator) ScoreBatch(ctx context.Context, records []domain.Transaction, modelVersion string) (*BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "scoring.batch")
	defer span.End()

	start := o.nowFn()
	run := newRun(RunModeBatch)
	out := &BatchResult{Run: run}

	if modelVersion == "" {
		modelVersion = o.cfg.Models.Version
	}

	artifact, release, err := o.registry.Acquire(modelVersion)
	if err != nil {
		run.fail(err)
		return out, err
	}
	defer release()
	run.ModelVersion = artifact.Version

	// Scoring with a mismatched active artifact is fatal: a skewed
	// feature mapping would silently corrupt every estimate.
	if err := o.checkSchema(artifact); err != nil {
		run.fail(err)
		return out, err
	}

	asOf := o.nowFn()
	profiles, buildSummary := o.builder.BuildProfiles(ctx, records, asOf)
	run.Summary.RecordsRead = buildSummary.RecordsRead
	run.Summary.Skipped = buildSummary.RecordsRejected
	run.Summary.ColdStart = buildSummary.ColdStart
	run.Summary.Degraded = artifact.Degraded()

	if err := run.advance(RunStateFeaturesReady); err != nil {
		run.fail(err)
		return out, err
	}

	pool := newScorePool(o.cfg.Scoring.Workers, o.cfg.Scoring.QueueSize)
	scored, failed, err := pool.run(ctx, profiles, func(ctx context.Context, p *domain.CustomerProfile) (*domain.PredictionResult, error) {
		return o.scoreOne(ctx, artifact, p.Features, p.CustomerID, asOf)
	})
	run.Summary.Failed = failed
	if err != nil {
		run.fail(err)
		return out, fmt.Errorf("batch run cancelled: %w", err)
	}

	if err := run.advance(RunStateScored); err != nil {
		run.fail(err)
		return out, err
	}

	// Segmentation consumes the full scored population so quantile
	// cut-points reflect the current run.
	population := make([]segments.CustomerScore, 0, len(scored))
	for _, sc := range scored {
		population = append(population, segments.CustomerScore{
			CustomerID:       sc.profile.CustomerID,
			Features:         sc.profile.Features,
			CLV:              sc.result.CLV.Value,
			ChurnProbability: sc.result.ChurnProbability,
			RiskTier:         sc.result.RiskTier,
		})
	}

	assignments, segmentSummaries, migrations := o.segments.AssignBatch(ctx, population)
	byCustomer := make(map[string]string, len(assignments))
	for _, a := range assignments {
		byCustomer[a.CustomerID] = a.SegmentID
	}
	for _, sc := range scored {
		sc.result.SegmentID = byCustomer[sc.profile.CustomerID]
	}
	out.Segments = segmentSummaries
	out.Migrations = migrations

	if err := run.advance(RunStateSegmented); err != nil {
		run.fail(err)
		return out, err
	}

	cohortCurves, err := o.cohorts.Analyze(ctx, profiles, asOf)
	if err != nil {
		run.fail(err)
		return out, err
	}
	out.Cohorts = cohortCurves

	for _, sc := range scored {
		o.cache.put(sc.profile.CustomerID, sc.profile.Features, asOf)
		out.Results = append(out.Results, sc.result)
		if o.sink != nil {
			if err := o.sink.Publish(ctx, sc.result); err != nil {
				run.Summary.PublishFailed++
				o.logger.Warn("Failed to publish prediction result",
					zap.String("customer_id", sc.result.CustomerID),
					zap.Error(err))
			}
		}
	}
	run.Summary.Succeeded = len(scored)

	if err := run.advance(RunStateComplete); err != nil {
		run.fail(err)
		return out, err
	}

	durationMS := float64(o.nowFn().Sub(start).Milliseconds())
	if o.runsTotal != nil {
		o.runsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", string(RunModeBatch)),
			attribute.String("state", string(run.State)),
		))
	}
	if o.runDuration != nil {
		o.runDuration.Record(ctx, durationMS)
	}

	span.SetAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("model_version", run.ModelVersion),
		attribute.Int("succeeded", run.Summary.Succeeded),
		attribute.Int("skipped", run.Summary.Skipped),
		attribute.Int("failed", run.Summary.Failed),
	)

	o.logger.Info("Batch scoring run complete",
		zap.String("run_id", run.ID),
		zap.String("model_version", run.ModelVersion),
		zap.Int("succeeded", run.Summary.Succeeded),
		zap.Int("skipped", run.Summary.Skipped),
		zap.Int("failed", run.Summary.Failed),
		zap.Bool("degraded", run.Summary.Degraded),
		zap.Float64("duration_ms", durationMS))

	return out, nil
}

// ScoreRealtime scores exactly one customer within the configured latency
// budget. A cached feature vector inside the freshness window is reused;
// otherwise features are rebuilt from the provided records. Calls over
// budget are aborted with a TimeoutError, never returned partially.
func (o *Orchestrator) ScoreRealtime(ctx context.Context, customerID string, records []domain.Transaction) (*domain.PredictionResult, error) {
	ctx, span := o.tracer.Start(ctx, "scoring.realtime")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	budget := time.Duration(o.cfg.Scoring.RealtimeBudgetMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	artifact, release, err := o.registry.Acquire(o.cfg.Models.Version)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := o.checkSchema(artifact); err != nil {
		return nil, err
	}

	now := o.nowFn()
	fv, cached := o.cache.get(customerID, now)
	if !cached {
		profile := &domain.CustomerProfile{CustomerID: customerID}
		rejected := 0
		for _, rec := range records {
			if rec.CustomerID != customerID {
				continue
			}
			if err := rec.Validate(); err != nil {
				rejected++
				continue
			}
			profile.Transactions = append(profile.Transactions, rec)
		}
		if rejected > 0 {
			o.logger.Debug("Rejected malformed records rebuilding realtime features",
				zap.String("customer_id", customerID),
				zap.Int("rejected", rejected))
		}
		profile.SortTransactions()
		fv = o.builder.Build(ctx, profile, now)
		o.cache.put(customerID, fv, now)
	}

	type outcome struct {
		result *domain.PredictionResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := o.scoreOne(ctx, artifact, fv, customerID, now)
		if err == nil {
			// Preview, not Assign: an on-demand read must not become the
			// "previous" segment that batch migration reporting compares
			// against.
			if assignment := o.segments.Preview(segments.CustomerScore{
				CustomerID:       customerID,
				Features:         fv,
				CLV:              result.CLV.Value,
				ChurnProbability: result.ChurnProbability,
				RiskTier:         result.RiskTier,
			}); assignment.SegmentID != "" {
				result.SegmentID = assignment.SegmentID
			}
		}
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		if o.realtimeOver != nil {
			o.realtimeOver.Add(ctx, 1)
		}
		return nil, &domain.TimeoutError{
			CustomerID: customerID,
			BudgetMS:   int64(o.cfg.Scoring.RealtimeBudgetMS),
		}
	case oc := <-done:
		if oc.err != nil {
			return nil, oc.err
		}
		if o.runsTotal != nil {
			o.runsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("mode", string(RunModeRealtime)),
				attribute.String("state", string(RunStateComplete)),
			))
		}
		return oc.result, nil
	}
}

// scoreOne runs one customer's pipeline stages in strict order:
// CLV projection, churn probability, risk tier.
func (o *Orchestrator) scoreOne(ctx context.Context, artifact *domain.ModelArtifact, fv domain.FeatureVector, customerID string, asOf time.Time) (*domain.PredictionResult, error) {
	if err := fv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid features for customer %s: %w", customerID, err)
	}

	estimate, lowConfidence := o.clvModel.Score(ctx, artifact.CLV, fv,
		o.cfg.Scoring.HorizonDays, o.cfg.Scoring.DiscountRate)

	probability, degraded := o.ensemble.Score(ctx, artifact, fv)

	result := &domain.PredictionResult{
		CustomerID:       customerID,
		CLV:              estimate,
		ChurnProbability: probability,
		RiskTier:         o.cfg.Scoring.RiskThresholds.Tier(probability),
		ModelVersion:     artifact.Version,
		ComputedAt:       asOf,
		Degraded:         degraded,
		LowConfidence:    lowConfidence,
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prediction for customer %s: %w", customerID, err)
	}

	return result, nil
}

// checkSchema verifies the artifact was trained against the feature
// builder's current output schema.
func (o *Orchestrator) checkSchema(artifact *domain.ModelArtifact) error {
	schema := o.builder.Schema()
	if len(artifact.FeatureSchema) != len(schema) {
		return o.schemaMismatch(artifact, schema)
	}
	for i := range schema {
		if artifact.FeatureSchema[i] != schema[i] {
			return o.schemaMismatch(artifact, schema)
		}
	}
	return nil
}

func (o *Orchestrator) schemaMismatch(artifact *domain.ModelArtifact, schema []string) error {
	return &domain.SchemaMismatchError{
		Version:  artifact.Version,
		Expected: schema,
		Got:      artifact.FeatureSchema,
	}
}
