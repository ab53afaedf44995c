package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scoring"
)

// BlueprintBuildTool handles the blueprint_build MCP tool.
// It turns raw blueprint questionnaire answers into normalized weights.
type BlueprintBuildTool struct{}

// NewBlueprintBuildTool creates a BlueprintBuildTool.
func NewBlueprintBuildTool() *BlueprintBuildTool {
	return &BlueprintBuildTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *BlueprintBuildTool) Definition() mcp.Tool {
	return mcp.NewTool("blueprint_build",
		mcp.WithDescription(
			"Build a normalized blueprint from the user's priority answers. "+
				"Importance low/medium/high weighs 0.33/0.67/1.0, deal-breakers count double, "+
				"and the resulting category weights sum to 1. Pass the result as "+
				"'blueprint' to scan_evaluate.",
		),
		mcp.WithArray("answers",
			mcp.Required(),
			mcp.Description("Blueprint answers: objects with category, importance "+
				"(low|medium|high), optional is_deal_breaker, question_id and description."),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

// Handle processes the blueprint_build tool call.
func (t *BlueprintBuildTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var answers []scan.BlueprintAnswer
	found, err := decodeArg(req.GetArguments(), "answers", &answers)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !found || len(answers) == 0 {
		return mcp.NewToolResultError("'answers' is required and must not be empty"), nil
	}
	for _, a := range answers {
		if a.Category == "" {
			return mcp.NewToolResultError("every blueprint answer needs a category"), nil
		}
	}
	return jsonResult(scoring.CalculateBlueprint(answers))
}
