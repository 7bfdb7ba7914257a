package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lifeline/pkg/domain"
)

var (
	scoreModel string
	scoreOut   string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score the full customer population in batch",
	Long: `Score runs the batch pipeline: features, CLV projection, churn risk,
segmentation, and cohort retention for every customer in the configured
source. Malformed records are skipped and reported in the run summary,
never failing the run.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreModel, "model", "", "pin a model version (default is latest active)")
	scoreCmd.Flags().StringVar(&scoreOut, "out", "", "write prediction results as JSONL to this file")
}

func runScore(cmd *cobra.Command, args []string) error {
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

	out, err := c.orchestrator.ScoreBatch(ctx, records, scoreModel)
	if err != nil {
		return err
	}

	if scoreOut != "" {
		if err := writeResults(scoreOut, out.Results); err != nil {
			return err
		}
	}

	summary := out.Run.Summary
	fmt.Printf("Run %s %s (model %s)\n", out.Run.ID, out.Run.State, out.Run.ModelVersion)
	fmt.Printf("  records=%d succeeded=%d skipped=%d failed=%d cold_start=%d degraded=%v\n",
		summary.RecordsRead, summary.Succeeded, summary.Skipped, summary.Failed,
		summary.ColdStart, summary.Degraded)
	for _, seg := range out.Segments {
		fmt.Printf("  segment %-20s %d customers\n", seg.ID, seg.Population)
	}
	fmt.Printf("  %d segment migrations, %d cohorts\n", len(out.Migrations), len(out.Cohorts))

	return nil
}

func writeResults(path string, results []*domain.PredictionResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	bar := progressbar.Default(int64(len(results)))
	enc := json.NewEncoder(file)
	for _, result := range results {
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		_ = bar.Add(1)
	}

	return nil
}
