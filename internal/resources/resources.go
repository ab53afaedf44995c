// Package resources implements MCP resource handlers for the scoring server.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (matchiq://...) following MCP conventions.
package resources

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
)

// Resource URIs.
const (
	ActiveConfigURI = "matchiq://config/active"
	VersionsURI     = "matchiq://config/versions"
)

// ConfigResolver resolves logic versions. *pipeline.Pipeline satisfies it.
type ConfigResolver interface {
	Registry() *config.Registry
	Config(version string) (*config.Scoring, bool)
}

// Handler manages config resource endpoints.
type Handler struct {
	resolver ConfigResolver
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(r ConfigResolver) *Handler {
	return &Handler{resolver: r}
}

// ActiveConfigResource returns the MCP resource definition for the
// scoring config new scans are evaluated with.
func (h *Handler) ActiveConfigResource() mcp.Resource {
	return mcp.NewResource(
		ActiveConfigURI,
		"Active scoring config",
		mcp.WithResourceDescription("Weights, thresholds and escalation rules of the active logic version"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleActiveConfig returns the active config as JSON.
func (h *Handler) HandleActiveConfig(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cfg, _ := h.resolver.Config("")
	if cfg == nil {
		return errorResource(req.Params.URI, "no scoring config loaded"), nil
	}
	return jsonContents(req.Params.URI, cfg)
}

// VersionsResource returns the MCP resource definition for the version list.
func (h *Handler) VersionsResource() mcp.Resource {
	return mcp.NewResource(
		VersionsURI,
		"Scoring logic versions",
		mcp.WithResourceDescription("Every loaded logic version, ascending, plus the active and latest one"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleVersions returns the version list as JSON.
func (h *Handler) HandleVersions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	reg := h.resolver.Registry()
	active, _ := h.resolver.Config("")
	if reg == nil || active == nil {
		return errorResource(req.Params.URI, "no scoring config loaded"), nil
	}
	return jsonContents(req.Params.URI, map[string]any{
		"versions": reg.Versions(),
		"active":   active.LogicVersion,
		"latest":   reg.Latest().LogicVersion,
	})
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
