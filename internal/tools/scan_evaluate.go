package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/explain"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/pipeline"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// ScanEvaluateTool handles the scan_evaluate MCP tool.
// It runs one party's scan through the full scoring pipeline.
type ScanEvaluateTool struct {
	pipeline *pipeline.Pipeline
}

// NewScanEvaluateTool creates a ScanEvaluateTool.
func NewScanEvaluateTool(p *pipeline.Pipeline) *ScanEvaluateTool {
	return &ScanEvaluateTool{pipeline: p}
}

// Definition returns the MCP tool definition for registration.
func (t *ScanEvaluateTool) Definition() mcp.Tool {
	return mcp.NewTool("scan_evaluate",
		mcp.WithDescription(
			"Score one compatibility scan. Returns the overall score (0-100), the "+
				"classification, gated confidence, red flags (escalated against the "+
				"user's history when user_id is given), inconsistencies and an "+
				"explanation of how every number was derived.",
		),
		mcp.WithArray("answers",
			mcp.Required(),
			mcp.Description("Rated answers: objects with question_id, category, rating "+
				"(strong_match|good|neutral|yellow_flag|red_flag) and optional question_text."),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("blueprint",
			mcp.Description("Normalized blueprint: category_weights, deal_breakers, top_priorities."),
		),
		mcp.WithArray("blueprint_answers",
			mcp.Description("Raw blueprint answers (category, importance, is_deal_breaker). "+
				"Used to build the blueprint when 'blueprint' is omitted."),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("profile",
			mcp.Description("User profile: age and dating_goal."),
		),
		mcp.WithObject("reflection_notes",
			mcp.Description("Optional notes: what_went_well, what_felt_off, boundaries, "+
				"emotional_state, additional_notes."),
		),
		mcp.WithString("user_id",
			mcp.Description("User the scan belongs to. Enables recurrence escalation and history recording."),
		),
		mcp.WithString("scan_id",
			mcp.Description("Scan identifier. Generated when omitted."),
		),
		mcp.WithString("as_of",
			mcp.Description("RFC 3339 reference time for the history window. Defaults to now."),
		),
		mcp.WithString("logic_version",
			mcp.Description("Scoring logic version. Defaults to the server's active version."),
		),
		mcp.WithString("target_category",
			mcp.Description("Classification to check the confidence gates against."),
			mcp.Enum(classificationValues()...),
		),
		withDetailLevel(),
	)
}

// Handle processes the scan_evaluate tool call.
func (t *ScanEvaluateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if _, ok := args["answers"]; !ok {
		return mcp.NewToolResultError("'answers' is required"), nil
	}

	scanReq, err := decodeScanRequest(t.pipeline, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.pipeline.Evaluate(ctx, scanReq)
	if err != nil {
		return nil, fmt.Errorf("evaluating scan: %w", err)
	}
	return renderResult(res, ParseDetailLevel(req.GetString("detail_level", "")))
}

// decodeScanRequest turns tool arguments into a validated pipeline
// request. Unknown categories and duplicate question ids are rejected.
func decodeScanRequest(p *pipeline.Pipeline, args map[string]any) (pipeline.Request, error) {
	var r pipeline.Request
	fields := []struct {
		key string
		dst any
	}{
		{"answers", &r.Answers},
		{"blueprint", &r.Blueprint},
		{"blueprint_answers", &r.BlueprintAnswers},
		{"profile", &r.Profile},
		{"reflection_notes", &r.Notes},
	}
	for _, f := range fields {
		if _, err := decodeArg(args, f.key, f.dst); err != nil {
			return r, err
		}
	}

	r.UserID, _ = args["user_id"].(string)
	r.ScanID, _ = args["scan_id"].(string)
	r.LogicVersion, _ = args["logic_version"].(string)
	if r.ScanID == "" {
		r.ScanID = newScanID()
	}

	asOf, err := timeArg(args, "as_of")
	if err != nil {
		return r, err
	}
	if asOf.IsZero() {
		asOf = timeNow()
	}
	r.AsOf = asOf.UTC()

	if target, _ := args["target_category"].(string); target != "" {
		c, err := scan.ParseClassification(target)
		if err != nil {
			return r, err
		}
		r.TargetCategory = c
	}

	cfg, _ := p.Config(r.LogicVersion)
	if err := scan.ValidateAnswers(r.Answers, cfg.KnownCategories()); err != nil {
		return r, fmt.Errorf("invalid answers: %w", err)
	}
	return r, nil
}

// renderResult formats a result at the requested detail level.
func renderResult(res pipeline.Result, detail string) (*mcp.CallToolResult, error) {
	switch detail {
	case DetailSummary:
		return mcp.NewToolResultText(summarizeResult(res) + SummaryFooter), nil
	case DetailFull:
		return jsonResult(res)
	default:
		return jsonResult(trimResult(res))
	}
}

// trimResult drops per-answer breakdowns and the trace.
func trimResult(res pipeline.Result) pipeline.Result {
	cats := make([]explain.CategoryExplanation, len(res.ExplanationMetadata.Categories))
	for i, c := range res.ExplanationMetadata.Categories {
		c.Answers = nil
		cats[i] = c
	}
	res.ExplanationMetadata.Categories = cats
	res.ExplanationMetadata.CalculationTrace = nil
	return res
}

func summarizeResult(res pipeline.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Scan %s\n\n", res.ScanID)
	fmt.Fprintf(&sb, "- **Score:** %d/100\n", res.OverallScore)
	fmt.Fprintf(&sb, "- **Category:** %s", res.Category)
	if res.ProvisionalCategory != res.Category {
		fmt.Fprintf(&sb, " (provisional %s)", res.ProvisionalCategory)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "- **Confidence:** %.2f (%s)\n", res.ConfidenceScore, res.ConfidenceReason)
	fmt.Fprintf(&sb, "- **Logic version:** %s\n", res.LogicVersion)
	if res.ForceLimitedDataAcknowledgment {
		sb.WriteString("- **Limited data:** this result must be presented with a limited-data notice\n")
	}

	sb.WriteString("\n## Red flags\n\n")
	if len(res.RedFlags) == 0 {
		sb.WriteString("_None detected._\n")
	}
	for _, f := range res.RedFlags {
		fmt.Fprintf(&sb, "- [%s] %s (%s)", f.Severity, f.Signal, f.Category)
		if f.IsEscalated {
			fmt.Fprintf(&sb, ", escalated after %d occurrences", f.OccurrenceCount)
		}
		sb.WriteString("\n")
	}

	if len(res.Inconsistencies) > 0 {
		sb.WriteString("\n## Inconsistencies\n\n")
		for _, inc := range res.Inconsistencies {
			fmt.Fprintf(&sb, "- %s: %s\n", inc.Category, inc.Description)
		}
	}
	if len(res.GatingRecommendations) > 0 {
		sb.WriteString("\n## Recommendations\n\n")
		for _, r := range res.GatingRecommendations {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(res.InputWarnings) > 0 {
		sb.WriteString("\n## Input warnings\n\n")
		for _, w := range res.InputWarnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	return sb.String()
}

func classificationValues() []string {
	out := make([]string, len(scan.ClassificationOrder))
	for i, c := range scan.ClassificationOrder {
		out[i] = string(c)
	}
	return out
}
