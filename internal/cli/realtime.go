package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var realtimeCustomer string

var realtimeCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Score one customer within the latency budget",
	Long: `Realtime scores a single customer on demand. A cached feature vector
inside the freshness window is reused; otherwise features are rebuilt from
the configured source. Calls over the latency budget fail with a timeout,
never partial data.`,
	RunE: runRealtime,
}

func init() {
	realtimeCmd.Flags().StringVar(&realtimeCustomer, "customer", "", "customer ID to score")
	realtimeCmd.MarkFlagRequired("customer")
}

func runRealtime(cmd *cobra.Command, args []string) error {
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

	result, err := c.orchestrator.ScoreRealtime(ctx, realtimeCustomer, records)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return nil
}
