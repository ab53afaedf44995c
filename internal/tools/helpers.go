// Package tools implements the MCP tool handlers of the scoring server.
//
// Each tool receives its dependencies through its struct and exposes a
// Definition for registration plus a Handle compatible with mcp-go's
// CallToolRequest signature. One file per tool.
//
// Input problems are returned as tool errors (mcp.NewToolResultError) so
// the calling model can correct them. Only infrastructure failures are
// returned as Go errors.
package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// timeNow is the clock used to default as_of. Tests replace it.
var timeNow = time.Now

// newScanID generates ids for scans submitted without one.
var newScanID = uuid.NewString

// ─── Detail levels ───────────────────────────────────────────────────────────

// Detail level constants.
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// DetailLevelValues returns the enum values for tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level string, defaulting to
// standard for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// SummaryFooter is appended to summary responses.
const SummaryFooter = "\n---\nUse detail_level: standard or full for the complete JSON result."

func withDetailLevel() mcp.ToolOption {
	return mcp.WithString("detail_level",
		mcp.Description(
			"Level of detail: 'summary' (short markdown report), "+
				"'standard' (default: JSON without per-answer breakdowns and trace), "+
				"'full' (complete JSON including the calculation trace).",
		),
		mcp.Enum(DetailLevelValues()...),
	)
}

// ─── Argument decoding ───────────────────────────────────────────────────────

// decodeArg decodes one argument. A JSON string holding an object or
// array is accepted too, since some clients stringify nested values.
func decodeArg(args map[string]any, key string, dst any) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, nil
	}
	if s, isString := v.(string); isString {
		if err := json.Unmarshal([]byte(s), dst); err != nil {
			return true, fmt.Errorf("invalid %s: %w", key, err)
		}
		return true, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return true, fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("invalid %s: %w", key, err)
	}
	return true, nil
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// timeArg parses an optional RFC 3339 argument.
func timeArg(args map[string]any, key string) (time.Time, error) {
	s, _ := args[key].(string)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp: %w", key, err)
	}
	return t, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
