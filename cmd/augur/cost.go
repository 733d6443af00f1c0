package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/tracker"
)

func newCostCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated provider cost by call type and provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.UsageDB)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			reports, err := tr.CostReport(cmd.Context(), sinceTime)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatCostTable(reports))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatCostTable(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-15s %8s %12s %10s\n",
		"CALL TYPE", "PROVIDER", "REQUESTS", "TOKENS", "EST. COST")
	b.WriteString(strings.Repeat("-", 74) + "\n")

	var totalCost float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-25s %-15s %8d %12d $%9.4f\n",
			r.CallType, defaultStr(r.Provider, "(none)"), r.RequestCount, r.TotalTokens, r.Cost)
		totalCost += r.Cost
	}
	b.WriteString(strings.Repeat("-", 74) + "\n")
	fmt.Fprintf(&b, "%62s $%9.4f\n", "TOTAL:", totalCost)
	return b.String()
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
