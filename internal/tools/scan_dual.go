package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/pipeline"
)

// ScanDualTool handles the scan_dual MCP tool.
// Both parties' scans are scored independently, then combined into a
// mutual alignment.
type ScanDualTool struct {
	pipeline *pipeline.Pipeline
}

// NewScanDualTool creates a ScanDualTool.
func NewScanDualTool(p *pipeline.Pipeline) *ScanDualTool {
	return &ScanDualTool{pipeline: p}
}

// Definition returns the MCP tool definition for registration.
func (t *ScanDualTool) Definition() mcp.Tool {
	partyDesc := "The party's scan, with the same fields scan_evaluate accepts " +
		"(answers, blueprint or blueprint_answers, profile, reflection_notes, user_id, scan_id, as_of)."
	return mcp.NewTool("scan_dual",
		mcp.WithDescription(
			"Score a dual scan where both people rated each other. Returns each party's "+
				"full result plus directional alignment, the mutual score (geometric mean), "+
				"shared deal-breakers, complementary areas and any asymmetry.",
		),
		mcp.WithObject("party_a", mcp.Required(), mcp.Description(partyDesc)),
		mcp.WithObject("party_b", mcp.Required(), mcp.Description(partyDesc)),
		mcp.WithString("logic_version",
			mcp.Description("Scoring logic version applied to both parties."),
		),
		withDetailLevel(),
	)
}

// Handle processes the scan_dual tool call.
func (t *ScanDualTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	version := req.GetString("logic_version", "")

	var parties [2]pipeline.Request
	for i, key := range []string{"party_a", "party_b"} {
		var partyArgs map[string]any
		found, err := decodeArg(args, key, &partyArgs)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !found {
			return mcp.NewToolResultError(fmt.Sprintf("'%s' is required", key)), nil
		}
		if _, ok := partyArgs["answers"]; !ok {
			return mcp.NewToolResultError(fmt.Sprintf("%s: 'answers' is required", key)), nil
		}
		if version != "" {
			partyArgs["logic_version"] = version
		}
		r, err := decodeScanRequest(t.pipeline, partyArgs)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", key, err)), nil
		}
		parties[i] = r
	}

	res, err := t.pipeline.EvaluateDual(ctx, pipeline.DualRequest{A: parties[0], B: parties[1]})
	if err != nil {
		return nil, fmt.Errorf("evaluating dual scan: %w", err)
	}

	switch ParseDetailLevel(req.GetString("detail_level", "")) {
	case DetailSummary:
		return mcp.NewToolResultText(summarizeDual(res) + SummaryFooter), nil
	case DetailFull:
		return jsonResult(res)
	default:
		res.A = trimResult(res.A)
		res.B = trimResult(res.B)
		return jsonResult(res)
	}
}

func summarizeDual(res pipeline.DualResult) string {
	al := res.Alignment
	var sb strings.Builder
	sb.WriteString("# Dual scan\n\n")
	fmt.Fprintf(&sb, "- **Mutual score:** %.2f (confidence %.2f)\n", al.MutualScore, al.Confidence)
	fmt.Fprintf(&sb, "- **A toward B:** %.2f, **B toward A:** %.2f\n", al.AToB, al.BToA)
	if al.Asymmetry != nil {
		fmt.Fprintf(&sb, "- **Asymmetry:** %.2f point gap favoring %s (%s)\n", al.Asymmetry.Gap, al.Asymmetry.Favors, al.Asymmetry.Severity)
	}
	if len(al.MutualDealBreakers) > 0 {
		fmt.Fprintf(&sb, "- **Shared deal-breakers hit:** %s\n", strings.Join(al.MutualDealBreakers, ", "))
	}
	if len(al.ComplementaryForA) > 0 {
		fmt.Fprintf(&sb, "- **Complementary for A:** %s\n", strings.Join(al.ComplementaryForA, ", "))
	}
	if len(al.ComplementaryForB) > 0 {
		fmt.Fprintf(&sb, "- **Complementary for B:** %s\n", strings.Join(al.ComplementaryForB, ", "))
	}
	sb.WriteString("\n## Party A\n\n")
	sb.WriteString(summarizeResult(res.A))
	sb.WriteString("\n## Party B\n\n")
	sb.WriteString(summarizeResult(res.B))
	return sb.String()
}
