package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/sources"
)

var (
	trainVersion  string
	trainActivate bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a new model artifact from transaction history",
	Long: `Train fits CLV population priors and the churn ensemble from the full
transaction history, plus labeled churn outcomes when a labels file is
configured. The resulting artifact is registered and optionally activated.

Without labels the artifact scores survival-only and results are marked
degraded.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainVersion, "version", "", "artifact version (default is timestamp derived)")
	trainCmd.Flags().BoolVar(&trainActivate, "activate", true, "activate the artifact after registration")
}

func runTrain(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := buildComponents(logger)
	if err != nil {
		return err
	}
	defer c.closeSink()

	ctx := context.Background()

	records, err := c.loadTransactions(ctx, logger)
	if err != nil {
		return err
	}

	outcomes, err := sources.LoadLabels(logger, c.cfg.Sources.LabelsPath)
	if err != nil {
		return err
	}

	artifact, err := c.trainer.Train(ctx, records, outcomes, trainVersion)
	if err != nil {
		return err
	}

	if err := c.registry.Register(artifact); err != nil {
		return err
	}

	if trainActivate {
		if err := c.registry.Activate(artifact.Version); err != nil {
			return err
		}
	}

	logger.Info("Training complete",
		zap.String("version", artifact.Version),
		zap.Bool("activated", trainActivate),
		zap.Bool("degraded", artifact.Degraded()))

	fmt.Printf("Registered model %s (degraded=%v, activated=%v)\n",
		artifact.Version, artifact.Degraded(), trainActivate)

	return nil
}
