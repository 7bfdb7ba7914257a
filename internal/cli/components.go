package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/churn"
	"github.com/yairfalse/lifeline/pkg/clv"
	"github.com/yairfalse/lifeline/pkg/cohorts"
	"github.com/yairfalse/lifeline/pkg/config"
	"github.com/yairfalse/lifeline/pkg/domain"
	"github.com/yairfalse/lifeline/pkg/features"
	"github.com/yairfalse/lifeline/pkg/registry"
	"github.com/yairfalse/lifeline/pkg/scoring"
	"github.com/yairfalse/lifeline/pkg/segments"
	"github.com/yairfalse/lifeline/pkg/sink"
	"github.com/yairfalse/lifeline/pkg/sources"
)

// components holds the wired engine for one command invocation.
type components struct {
	cfg          *config.Config
	builder      *features.Builder
	clvModel     *clv.Model
	ensemble     *churn.Ensemble
	segEngine    *segments.Engine
	cohorts      *cohorts.Analyzer
	registry     *registry.Registry
	trainer      *scoring.Trainer
	orchestrator *scoring.Orchestrator
	sink         sink.Sink
	closeSink    func()
}

// buildComponents constructs the full pipeline from configuration. The
// registry is loaded from the artifact store when one is configured.
func buildComponents(logger *zap.Logger) (*components, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	builder := features.NewBuilder(logger)
	clvModel := clv.NewModel(logger, clv.DefaultFitConfig())
	ensemble := churn.NewEnsemble(logger, churn.DefaultEnsembleConfig())
	segEngine := segments.NewEngine(logger)
	cohortAnalyzer := cohorts.NewAnalyzer(logger)

	reg := registry.NewRegistry(logger, builder.Schema(), cfg.Models.StoreDir)
	if err := reg.LoadStore(); err != nil {
		return nil, err
	}

	var resultSink sink.Sink
	closeSink := func() {}
	if cfg.NATS.Enabled {
		publisher, err := sink.NewNATSPublisher(logger, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		resultSink = publisher
		closeSink = publisher.Close
	} else {
		resultSink = sink.NewMemory()
	}

	orchestrator := scoring.NewOrchestrator(logger, cfg, builder, clvModel, ensemble,
		segEngine, cohortAnalyzer, reg, resultSink)

	return &components{
		cfg:          cfg,
		builder:      builder,
		clvModel:     clvModel,
		ensemble:     ensemble,
		segEngine:    segEngine,
		cohorts:      cohortAnalyzer,
		registry:     reg,
		trainer:      scoring.NewTrainer(logger, builder, clvModel, ensemble),
		orchestrator: orchestrator,
		sink:         resultSink,
		closeSink:    closeSink,
	}, nil
}

// loadTransactions reads records from the configured source: MySQL when a
// DSN is set, otherwise the JSONL file.
func (c *components) loadTransactions(ctx context.Context, logger *zap.Logger) ([]domain.Transaction, error) {
	if c.cfg.Sources.MySQLDSN != "" {
		src, err := sources.OpenMySQL(logger, c.cfg.Sources.MySQLDSN, c.cfg.Sources.MySQLTable)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return src.Transactions(ctx)
	}

	if c.cfg.Sources.JSONLPath == "" {
		return nil, fmt.Errorf("no transaction source configured: set sources.jsonl_path or sources.mysql_dsn")
	}

	src := sources.NewJSONLSource(logger, c.cfg.Sources.JSONLPath)
	return src.Transactions(ctx)
}
