package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/replay"
)

// Tool argument structs.

type callTypeArgs struct {
	CallType string `json:"call_type"`
}

type costReportArgs struct {
	Since string `json:"since"`
}

type replayLogArgs struct {
	Tick     *uint64 `json:"tick"`
	CallType string  `json:"call_type"`
	Limit    int     `json:"limit"`
}

type attemptsArgs struct {
	RequestID string `json:"request_id"`
	CallType  string `json:"call_type"`
	Provider  string `json:"provider"`
	ErrorKind string `json:"error_kind"`
	Since     string `json:"since"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"augur_stats":       handleStats,
	"augur_cost_report": handleCostReport,
	"augur_budget":      handleBudget,
	"augur_cache_stats": handleCacheStats,
	"augur_replay_log":  handleReplayLog,
	"augur_attempts":    handleAttempts,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "augur_stats",
		Description: "Show recorded usage grouped by call type, provider and source, optionally filtered by call type.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"call_type": stringProp("Filter by call type (optional)"),
			},
		},
	},
	{
		Name:        "augur_cost_report",
		Description: "Show estimated provider cost grouped by call type and provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": stringProp("Start date in YYYY-MM-DD format (optional, defaults to start of month)"),
			},
		},
	},
	{
		Name:        "augur_budget",
		Description: "Show budget status (usage vs limits) for all configured policies.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "augur_cache_stats",
		Description: "Show response cache statistics for the save file snapshot.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "augur_replay_log",
		Description: "List records of the saved replay log, optionally for one tick or call type.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tick":      map[string]any{"type": "integer", "description": "Only records submitted at this tick (optional)"},
				"call_type": stringProp("Filter by call type (optional)"),
				"limit":     map[string]any{"type": "integer", "description": "Maximum records (optional, default 50)"},
			},
		},
	},
	{
		Name:        "augur_attempts",
		Description: "Search the provider attempt journal with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request_id": stringProp("Filter by request ID (optional)"),
				"call_type":  stringProp("Filter by call type (optional)"),
				"provider":   stringProp("Filter by provider name (optional)"),
				"error_kind": stringProp("Filter by error kind, e.g. timeout or rate-limited (optional)"),
				"since":      stringProp("Start date in YYYY-MM-DD format (optional)"),
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func parseSince(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse("2006-01-02", s)
}

func handleStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args callTypeArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rows, err := s.tracker.Summary(ctx, models.CallType(args.CallType))
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleCostReport(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args costReportArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	since, err := parseSince(args.Since, beginningOfMonth())
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	reports, err := s.tracker.CostReport(ctx, since)
	if err != nil {
		return errorResult("Error fetching cost report: " + err.Error())
	}
	return textResult(formatCostReport(reports))
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func handleBudget(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.enforcer == nil {
		return textResult("Budget enforcement is not configured.")
	}
	statuses, err := s.enforcer.Status(ctx)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleReplayLog(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.replay == nil {
		return textResult("Replay log is not configured.")
	}
	var args replayLogArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Limit <= 0 {
		args.Limit = 50
	}
	records, err := s.replay.Query(replay.Filter{
		Tick:     args.Tick,
		CallType: models.CallType(args.CallType),
		Limit:    args.Limit,
	})
	if err != nil {
		return errorResult("Error reading replay log: " + err.Error())
	}
	return textResult(formatReplayRecords(records))
}

func handleAttempts(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.attempts == nil {
		return textResult("Attempt journal is not configured.")
	}
	var args attemptsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	since, err := parseSince(args.Since, time.Time{})
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	entries, err := s.attempts.Query(ctx, models.AuditQueryOpts{
		RequestID: args.RequestID,
		CallType:  args.CallType,
		Provider:  args.Provider,
		ErrorKind: args.ErrorKind,
		Since:     since,
		Limit:     50,
	})
	if err != nil {
		return errorResult("Error searching attempt journal: " + err.Error())
	}
	return textResult(formatAttempts(entries))
}
