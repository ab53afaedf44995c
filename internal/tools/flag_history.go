package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/flagstore"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// FlagLister reads stored flag records. *flagstore.Store satisfies it.
type FlagLister interface {
	ListRecords(ctx context.Context, q flagstore.ListQuery) ([]flagstore.Record, error)
}

// FlagHistoryTool handles the flag_history MCP tool.
type FlagHistoryTool struct {
	store FlagLister
}

// NewFlagHistoryTool creates a FlagHistoryTool.
func NewFlagHistoryTool(store FlagLister) *FlagHistoryTool {
	return &FlagHistoryTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *FlagHistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("flag_history",
		mcp.WithDescription(
			"List the red flags stored for a user, newest first, grouped by pattern "+
				"(flag type and category). This is the history scan_evaluate escalates against.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("User whose history to list."),
		),
		mcp.WithString("since",
			mcp.Description("RFC 3339 start of the range (inclusive). Defaults to 90 days before 'until'."),
		),
		mcp.WithString("until",
			mcp.Description("RFC 3339 end of the range (inclusive). Defaults to now."),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum records to return (default %d).", flagstore.DefaultListLimit)),
		),
		withDetailLevel(),
	)
}

// patternGroup is the stored history of one pattern key.
type patternGroup struct {
	Pattern      string             `json:"pattern"`
	Occurrences  int                `json:"occurrences"`
	MaxSeverity  scan.Severity      `json:"max_severity"`
	FirstSeen    time.Time          `json:"first_seen"`
	LastSeen     time.Time          `json:"last_seen"`
	EscalatedAny bool               `json:"escalated_any"`
	Records      []flagstore.Record `json:"records,omitempty"`
}

type historyResponse struct {
	UserID   string         `json:"user_id"`
	Since    time.Time      `json:"since"`
	Until    time.Time      `json:"until"`
	Total    int            `json:"total"`
	Patterns []patternGroup `json:"patterns"`
}

// Handle processes the flag_history tool call.
func (t *FlagHistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	userID := strings.TrimSpace(req.GetString("user_id", ""))
	if userID == "" {
		return mcp.NewToolResultError("'user_id' is required"), nil
	}

	until, err := timeArg(args, "until")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if until.IsZero() {
		until = timeNow()
	}
	since, err := timeArg(args, "since")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if since.IsZero() {
		since = until.AddDate(0, 0, -90)
	}
	if since.After(until) {
		return mcp.NewToolResultError("'since' must not be after 'until'"), nil
	}
	limit := intArg(args, "limit", flagstore.DefaultListLimit)
	if limit <= 0 {
		return mcp.NewToolResultError("'limit' must be positive"), nil
	}

	records, err := t.store.ListRecords(ctx, flagstore.ListQuery{
		UserID: userID,
		Since:  since.UTC(),
		Until:  until.UTC(),
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing flag history: %w", err)
	}

	detail := ParseDetailLevel(req.GetString("detail_level", ""))
	resp := historyResponse{
		UserID:   userID,
		Since:    since.UTC(),
		Until:    until.UTC(),
		Total:    len(records),
		Patterns: groupByPattern(records, detail == DetailFull),
	}
	if detail == DetailSummary {
		return mcp.NewToolResultText(summarizeHistory(resp) + SummaryFooter), nil
	}
	return jsonResult(resp)
}

// groupByPattern groups records by pattern key, most frequent first.
func groupByPattern(records []flagstore.Record, keepRecords bool) []patternGroup {
	byKey := make(map[string]*patternGroup)
	var order []string
	for _, r := range records {
		key := r.Flag().PatternKey()
		g, ok := byKey[key]
		if !ok {
			g = &patternGroup{Pattern: key, MaxSeverity: r.Severity, FirstSeen: r.RecordedAt, LastSeen: r.RecordedAt}
			byKey[key] = g
			order = append(order, key)
		}
		g.Occurrences++
		if r.Severity > g.MaxSeverity {
			g.MaxSeverity = r.Severity
		}
		if r.RecordedAt.Before(g.FirstSeen) {
			g.FirstSeen = r.RecordedAt
		}
		if r.RecordedAt.After(g.LastSeen) {
			g.LastSeen = r.RecordedAt
		}
		g.EscalatedAny = g.EscalatedAny || r.IsEscalated
		if keepRecords {
			g.Records = append(g.Records, r)
		}
	}

	groups := make([]patternGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Occurrences > groups[j].Occurrences
	})
	return groups
}

func summarizeHistory(resp historyResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Flag history for %s\n\n", resp.UserID)
	fmt.Fprintf(&sb, "%s to %s, %d stored flags\n\n",
		resp.Since.Format(time.DateOnly), resp.Until.Format(time.DateOnly), resp.Total)
	if len(resp.Patterns) == 0 {
		sb.WriteString("_No flags in range._\n")
		return sb.String()
	}
	for _, g := range resp.Patterns {
		fmt.Fprintf(&sb, "- **%s**: %d× (max %s, last %s)", g.Pattern, g.Occurrences, g.MaxSeverity, g.LastSeen.Format(time.DateOnly))
		if g.EscalatedAny {
			sb.WriteString(", escalated")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
