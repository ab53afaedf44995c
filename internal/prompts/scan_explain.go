package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ExplainPrompt handles the scan-explain MCP prompt.
// It instructs the AI to present a scan result honestly, leading with
// safety and data limits before the score.
type ExplainPrompt struct{}

// NewExplainPrompt creates an ExplainPrompt.
func NewExplainPrompt() *ExplainPrompt {
	return &ExplainPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ExplainPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("scan-explain",
		mcp.WithPromptDescription(
			"Explain a compatibility scan result: what drove the score, how sure it is, "+
				"and which red flags matter. Paste a scan_evaluate result or give its scan id.",
		),
		mcp.WithArgument("result",
			mcp.ArgumentDescription("JSON result from scan_evaluate. Omit to explain the most recent scan in this conversation."),
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Optional focus: 'score', 'confidence' or 'red_flags'."),
		),
	)
}

var focusInstructions = map[string]string{
	"score":      "Spend most of the explanation on which categories and answers moved the score, using explanation_metadata.",
	"confidence": "Spend most of the explanation on confidence: data sufficiency, conflict density and which gates failed.",
	"red_flags":  "Spend most of the explanation on the red flags, their evidence, and any escalation from earlier scans.",
}

// Handle processes the scan-explain prompt request.
func (p *ExplainPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var result, focus string
	if args := req.Params.Arguments; args != nil {
		result = strings.TrimSpace(args["result"])
		focus = args["focus"]
	}

	var sb strings.Builder
	if result != "" {
		fmt.Fprintf(&sb, "Here is a compatibility scan result:\n\n```json\n%s\n```\n\n", result)
	} else {
		sb.WriteString("Take the most recent compatibility scan result from our conversation. " +
			"If there is none, ask me for my answers and run `scan_evaluate` first.\n\n")
	}
	sb.WriteString("Explain it to me:\n" +
		"1. If there are critical or high red flags, start with them and with what the evidence says. " +
		"Mention escalations from earlier scans plainly\n" +
		"2. If force_limited_data_acknowledgment is true, say clearly that there was not enough data for a strong conclusion\n" +
		"3. Give the category and the score, and name the two or three categories that drove it\n" +
		"4. Explain the confidence and list the gating recommendations as next steps\n" +
		"5. Point out any inconsistencies between my answers without judging me\n\n" +
		"Do not invent numbers that are not in the result.")
	if inst, ok := focusInstructions[focus]; ok {
		sb.WriteString(" ")
		sb.WriteString(inst)
	}

	return &mcp.GetPromptResult{
		Description: "Explain a compatibility scan result",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(sb.String()),
			},
		},
	}, nil
}
