package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Report retention curves by acquisition month",
	RunE:  runCohorts,
}

func runCohorts(cmd *cobra.Command, args []string) error {
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

	now := time.Now()
	profiles, summary := c.builder.BuildProfiles(ctx, records, now)

	curves, err := c.cohorts.Analyze(ctx, profiles, now)
	if err != nil {
		return err
	}

	fmt.Printf("Cohorts from %d customers (%d records, %d rejected)\n",
		summary.Customers, summary.RecordsRead, summary.RecordsRejected)
	for _, cohort := range curves {
		fmt.Printf("  %s  size=%-6d", cohort.Period, cohort.Size)
		for _, rate := range cohort.Retention {
			fmt.Printf(" %5.1f%%", rate*100)
		}
		fmt.Println()
	}

	return nil
}
