// Package prompts implements MCP prompt handlers for the scoring server.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the matchiq-start MCP prompt.
// It guides the AI through collecting a blueprint and a scan, then scoring it.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("matchiq-start",
		mcp.WithPromptDescription(
			"Start a compatibility scan. Walks you through your priorities, "+
				"rating the other person's behavior, and reading the result.",
		),
		mcp.WithArgument("user_id",
			mcp.ArgumentDescription("Your user id. With it, recurring red flags across scans are escalated."),
		),
		mcp.WithArgument("mode",
			mcp.ArgumentDescription("'single' (you rate them) or 'dual' (you both rate each other). Default: single"),
		),
	)
}

// Handle processes the matchiq-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	userID := ""
	mode := "single"
	if args := req.Params.Arguments; args != nil {
		userID = args["user_id"]
		if m, ok := args["mode"]; ok && m == "dual" {
			mode = m
		}
	}

	identity := "I don't want this scan stored, so leave user_id out."
	if userID != "" {
		identity = fmt.Sprintf("Use user_id='%s' so my red-flag history is checked and updated.", userID)
	}

	var steps string
	if mode == "dual" {
		steps = "1. Ask each of us for our priorities (category, importance low/medium/high, deal-breakers) and run `blueprint_build` once per person\n" +
			"2. Ask each of us to rate the other's behavior per question: strong_match, good, neutral, yellow_flag or red_flag\n" +
			"3. Run `scan_dual` with party_a and party_b, each holding its answers and blueprint\n" +
			"4. Explain the mutual score, any asymmetry, and shared deal-breakers without taking sides\n"
	} else {
		steps = "1. Ask me for my priorities (category, importance low/medium/high, deal-breakers) and run `blueprint_build`\n" +
			"2. Ask me to rate the other person's behavior per question: strong_match, good, neutral, yellow_flag or red_flag\n" +
			"3. Run `scan_evaluate` with my answers and the blueprint, using detail_level='standard'\n" +
			"4. Explain the result the way the `scan-explain` prompt describes\n"
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start a %s compatibility scan", mode),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to run a %s compatibility scan.\n\n"+
						"Please:\n%s\n"+
						"Ask at least two questions per category across at least five categories, "+
						"otherwise the result will be marked as limited data. %s",
					mode, steps, identity,
				)),
			},
		},
	}, nil
}
