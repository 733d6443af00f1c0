package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/augur/pkg/audit"
	"github.com/pario-ai/augur/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the provider attempt journal",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		callType  string
		provider  string
		errorKind string
		since     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search provider attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				CallType:  callType,
				Provider:  provider,
				ErrorKind: errorKind,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&callType, "call-type", "", "filter by call type")
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&errorKind, "error-kind", "", "filter by error kind (timeout, rate-limited, ...)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show every attempt made for one request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(cmd.Context(), models.AuditQueryOpts{RequestID: requestID})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No attempts found for that request ID.")
				return nil
			}

			// newest first from Query; show in attempt order
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(out, "Attempt %d  %s\n", e.Attempt, e.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "  Call type: %s (%s)\n", e.CallType, e.Tier)
				fmt.Fprintf(out, "  Provider:  %s\n", e.Provider)
				if e.Success {
					fmt.Fprintf(out, "  Result:    ok, %d in / %d out tokens\n", e.TokensIn, e.TokensOut)
				} else {
					fmt.Fprintf(out, "  Result:    %s: %s\n", e.ErrorKind, e.Error)
				}
				fmt.Fprintf(out, "  Latency:   %dms\n", e.LatencyMs)
				if e.Prompt != "" {
					fmt.Fprintf(out, "\n--- Prompt ---\n%s\n", e.Prompt)
				}
				if e.Response != "" {
					fmt.Fprintf(out, "\n--- Response ---\n%s\n", e.Response)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show attempt and failure counts by provider and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete attempts older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d attempt entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger() (*audit.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AttemptEntry) string {
	if len(entries) == 0 {
		return "No attempts found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %3s %-24s %-14s %-18s %8s %8s %-20s\n",
		"REQUEST ID", "#", "CALL TYPE", "PROVIDER", "RESULT", "LATENCY", "TOKENS", "TIME")
	b.WriteString(strings.Repeat("-", 140) + "\n")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = e.ErrorKind
		}
		fmt.Fprintf(&b, "%-36s %3d %-24s %-14s %-18s %6dms %8d %-20s\n",
			e.RequestID, e.Attempt, e.CallType, e.Provider, result,
			e.LatencyMs, e.TokensIn+e.TokensOut,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No attempt stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %8s %8s %7s\n", "PROVIDER", "DAY", "ATTEMPTS", "FAILURES", "FAIL%")
	b.WriteString(strings.Repeat("-", 59) + "\n")
	for _, s := range stats {
		pct := float64(0)
		if s.Attempts > 0 {
			pct = float64(s.Failures) / float64(s.Attempts) * 100
		}
		fmt.Fprintf(&b, "%-20s %-12s %8d %8d %6.1f%%\n", s.Provider, s.Day, s.Attempts, s.Failures, pct)
	}
	return b.String()
}
