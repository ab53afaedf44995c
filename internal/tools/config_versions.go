package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
)

// ConfigResolver resolves logic versions. *pipeline.Pipeline satisfies it.
type ConfigResolver interface {
	Registry() *config.Registry
	Config(version string) (*config.Scoring, bool)
}

// ConfigVersionsTool handles the config_versions MCP tool.
type ConfigVersionsTool struct {
	resolver ConfigResolver
}

// NewConfigVersionsTool creates a ConfigVersionsTool.
func NewConfigVersionsTool(r ConfigResolver) *ConfigVersionsTool {
	return &ConfigVersionsTool{resolver: r}
}

// Definition returns the MCP tool definition for registration.
func (t *ConfigVersionsTool) Definition() mcp.Tool {
	return mcp.NewTool("config_versions",
		mcp.WithDescription(
			"List the scoring logic versions this server can evaluate with, and the "+
				"active one. Pass 'version' to get that version's full configuration: "+
				"weights, thresholds, escalation rules and classification mode.",
		),
		mcp.WithString("version",
			mcp.Description("Logic version to describe. Omit to list versions only."),
		),
	)
}

type versionsResponse struct {
	Versions []string `json:"versions"`
	Active   string   `json:"active"`
	Latest   string   `json:"latest"`
}

// Handle processes the config_versions tool call.
func (t *ConfigVersionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reg := t.resolver.Registry()
	version := strings.TrimSpace(req.GetString("version", ""))
	if version == "" {
		active, _ := t.resolver.Config("")
		return jsonResult(versionsResponse{
			Versions: reg.Versions(),
			Active:   active.LogicVersion,
			Latest:   reg.Latest().LogicVersion,
		})
	}

	cfg, exact := reg.Get(version)
	if !exact {
		return mcp.NewToolResultError(fmt.Sprintf(
			"unknown logic version %q, available: %s", version, strings.Join(reg.Versions(), ", "))), nil
	}
	return jsonResult(cfg)
}
