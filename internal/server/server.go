// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on
// abstractions. No scoring logic lives here, only wiring.
package server

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/escalation"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/flagstore"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/pipeline"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/prompts"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/resources"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// history is what the pipeline escalates against and records into.
type history interface {
	escalation.HistoryReader
	escalation.HistoryWriter
}

// components are the resolved dependencies of the server.
type components struct {
	pipeline *pipeline.Pipeline
	store    *flagstore.Store // nil when the flag history is disabled
	history  history          // store, or the Redis cache in front of it
	cleanup  func()
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the flag store and the Redis
// client and must be called on shutdown (typically via defer). It is
// always non-nil and safe to call even if the flag store is disabled.
func New(ctx context.Context, env config.Env, logger *zap.Logger) (*server.MCPServer, func(), error) {
	c, err := build(ctx, env, logger)
	if err != nil {
		return nil, noop, err
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"matchiq",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register scoring tools ---

	evaluateTool := tools.NewScanEvaluateTool(c.pipeline)
	s.AddTool(evaluateTool.Definition(), evaluateTool.Handle)

	dualTool := tools.NewScanDualTool(c.pipeline)
	s.AddTool(dualTool.Definition(), dualTool.Handle)

	blueprintTool := tools.NewBlueprintBuildTool()
	s.AddTool(blueprintTool.Definition(), blueprintTool.Handle)

	versionsTool := tools.NewConfigVersionsTool(c.pipeline)
	s.AddTool(versionsTool.Definition(), versionsTool.Handle)

	// The history tool reads the store directly; the cache only serves
	// the escalation windows.
	if c.store != nil {
		historyTool := tools.NewFlagHistoryTool(c.store)
		s.AddTool(historyTool.Definition(), historyTool.Handle)
	}

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	explainPrompt := prompts.NewExplainPrompt()
	s.AddPrompt(explainPrompt.Definition(), explainPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(c.pipeline)
	s.AddResource(resourceHandler.ActiveConfigResource(), resourceHandler.HandleActiveConfig)
	s.AddResource(resourceHandler.VersionsResource(), resourceHandler.HandleVersions)

	return s, c.cleanup, nil
}

// NewPipeline builds the scoring pipeline with the same config, flag
// history and cache the server uses. It backs the CLI score command.
func NewPipeline(ctx context.Context, env config.Env, logger *zap.Logger) (*pipeline.Pipeline, func(), error) {
	c, err := build(ctx, env, logger)
	if err != nil {
		return nil, noop, err
	}
	return c.pipeline, c.cleanup, nil
}

// build resolves every dependency from env.
//
// The scoring config is mandatory: a missing or invalid version fails
// startup. The flag history is an independent subsystem: if it fails to
// open, scans are still scored, only without recurrence escalation.
func build(ctx context.Context, env config.Env, logger *zap.Logger) (*components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := env.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("loading scoring config: %w", err)
	}
	if env.LogicVersion != "" {
		if _, exact := registry.Get(env.LogicVersion); !exact {
			return nil, fmt.Errorf("MATCHIQ_LOGIC_VERSION %q is not loaded (have %v)", env.LogicVersion, registry.Versions())
		}
	}

	c := &components{cleanup: noop}
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithDefaultVersion(env.LogicVersion),
	}

	store, err := flagstore.Open(ctx, flagstore.Config{
		Driver:  env.DBDriver,
		DataDir: env.DataDir,
		DSN:     env.DatabaseURL,
	}, logger)
	if err != nil {
		logger.Warn("flag history disabled, recurring red flags will not escalate", zap.Error(err))
	} else {
		c.store = store
		c.history = store
		closers := []func() error{store.Close}

		if env.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("flag history cache disabled", zap.String("addr", env.RedisAddr), zap.Error(err))
				_ = client.Close()
			} else {
				c.history = flagstore.NewCache(store, flagstore.NewRedisKV(client), env.HistoryCacheTTL, logger)
				closers = append(closers, client.Close)
			}
		}

		c.cleanup = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](); err != nil {
					logger.Warn("shutdown: close failed", zap.Error(err))
				}
			}
		}
		opts = append(opts, pipeline.WithHistory(c.history), pipeline.WithRecorder(c.history))
	}

	c.pipeline, err = pipeline.New(registry, opts...)
	if err != nil {
		c.cleanup()
		return nil, err
	}
	return c, nil
}

// noop is a no-op cleanup function used as the default when the flag
// store is disabled or hasn't been initialized.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use MatchIQ.
func serverInstructions() string {
	return `You have access to MatchIQ, a relationship compatibility scoring server.

## What it does
A scan is a set of answers one person gives about another person's behavior,
grouped into categories (communication_fit, values_alignment,
emotional_maturity, lifestyle_compatibility, future_goals, trust_safety).
Each answer is rated strong_match, good, neutral, yellow_flag or red_flag.
MatchIQ turns a scan into a 0-100 score, a classification, a confidence
value, red flags and a full explanation. It never invents data: everything
it returns is derived from the answers you send.

## Workflow
1. Collect the user's priorities and call blueprint_build
2. Collect rated answers and call scan_evaluate with the blueprint
   - Pass user_id when the user wants recurring red flags tracked across scans
   - Ask for at least 2 answers in each of at least 5 categories; fewer
     answers force a limited-data result
3. For two people rating each other, call scan_dual instead
4. Use flag_history to show a user's stored red-flag patterns
5. Use config_versions to see which scoring logic versions are available

## Presenting results
- Lead with critical and high red flags and their evidence
- If force_limited_data_acknowledgment is true, you MUST tell the user the
  result is based on limited data
- Never present high_potential or high_risk as certain when the confidence
  gates were not met; the classification already accounts for that
- Recommendations in gating_recommendations are next steps, not verdicts

## Detail levels
Every scoring tool accepts detail_level: summary (markdown), standard
(JSON without per-answer breakdowns) or full (JSON with the calculation trace).
Start with standard; use full only when the user asks how a number was derived.`
}
