package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/augur/pkg/models"
)

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-16s %-9s %8s %10s %10s %10s\n",
		"Call Type", "Provider", "Source", "Requests", "Tokens In", "Tokens Out", "Cost")
	b.WriteString(strings.Repeat("-", 93) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %-16s %-9s %8d %10d %10d %10.4f\n",
			r.CallType, r.Provider, r.Source, r.RequestCount, r.TokensIn, r.TokensOut, r.Cost)
	}
	return b.String()
}

// formatCostReport formats cost reports as a text table with a total line.
func formatCostReport(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-16s %8s %12s %10s\n", "Call Type", "Provider", "Requests", "Tokens", "Cost")
	b.WriteString(strings.Repeat("-", 74) + "\n")
	var total float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-24s %-16s %8d %12d %10.4f\n",
			r.CallType, r.Provider, r.RequestCount, r.TotalTokens, r.Cost)
		total += r.Cost
	}
	b.WriteString(strings.Repeat("-", 74) + "\n")
	fmt.Fprintf(&b, "%-63s %10.4f\n", "Total", total)
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-8s %12s %12s %12s %6s\n",
		"Call Type", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, s := range statuses {
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-24s %-8s %12d %12d %12d %5.1f%%\n",
			s.Policy.CallType, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Expired:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Expired, stats.Hits, stats.Misses, hitRate)
}

// formatReplayRecords lists replay records with content cut to one line.
func formatReplayRecords(records []models.ReplayRecord) string {
	if len(records) == 0 {
		return "No replay records found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%6s %8s %-24s %-12s %-10s %s\n", "Seq", "Tick", "Call Type", "Fingerprint", "Outcome", "Content")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, r := range records {
		outcome := string(r.Outcome)
		if outcome == "" {
			outcome = "resolved"
		}
		fmt.Fprintf(&b, "%6d %8d %-24s %-12s %-10s %s\n",
			r.Seq, r.Tick, r.CallType, short(r.Fingerprint, 12), outcome, oneLine(r.Content, 40))
	}
	return b.String()
}

// formatAttempts formats attempt journal entries as a text table.
func formatAttempts(entries []models.AttemptEntry) string {
	if len(entries) == 0 {
		return "No attempts found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %3s %-24s %-14s %-20s %8s\n",
		"Time", "Request", "#", "Call Type", "Provider", "Result", "Latency")
	b.WriteString(strings.Repeat("-", 109) + "\n")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = e.ErrorKind
		}
		fmt.Fprintf(&b, "%-20s %-12s %3d %-24s %-14s %-20s %6dms\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			short(e.RequestID, 12), e.Attempt, e.CallType, e.Provider, result, e.LatencyMs)
	}
	return b.String()
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
