// MatchIQ: relationship compatibility scoring MCP server
//
// Scores compatibility scans with versioned, explainable logic and tracks
// recurring red flags per user.
//
// Usage:
//
//	matchiq serve                    # Start MCP server (stdio transport)
//	matchiq score <request.json|->   # Score one scan or a dual scan
//	matchiq config validate <dir>    # Validate a directory of logic versions
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/logging"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/pipeline"
	miqserver "github.com/DigitalExpart/MatchIQ-sub000/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = run()
	case "score":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: matchiq score <request.json|->")
			os.Exit(1)
		}
		err = runScore(os.Args[2], os.Stdout)
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "Usage: matchiq config validate <dir>")
			os.Exit(1)
		}
		err = runValidate(os.Args[3], os.Stdout)
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("matchiq v%s\n", miqserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup reads the environment and builds the logger.
func setup() (config.Env, *zap.Logger, error) {
	env, err := config.ParseEnv()
	if err != nil {
		return config.Env{}, nil, err
	}
	logger, err := logging.NewLogger(env.LogLevel, env.LogFormat, "matchiq")
	if err != nil {
		return config.Env{}, nil, fmt.Errorf("creating logger: %w", err)
	}
	return env, logger, nil
}

func run() error {
	env, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Graceful shutdown on interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, cleanup, err := miqserver.New(ctx, env, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	logger.Info("serving MCP over stdio", zap.String("version", miqserver.Version))
	stdio := server.NewStdioServer(s)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runScore evaluates the request in path ("-" reads stdin) and writes the
// result as JSON. A request with party_a is scored as a dual scan.
func runScore(path string, out io.Writer) error {
	env, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	data, err := readInput(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, cleanup, err := miqserver.NewPipeline(ctx, env, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := score(ctx, p, data)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func score(ctx context.Context, p *pipeline.Pipeline, data []byte) (any, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	if _, dual := fields["party_a"]; dual {
		var req pipeline.DualRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parsing dual request: %w", err)
		}
		return p.EvaluateDual(ctx, req)
	}
	var req pipeline.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	return p.Evaluate(ctx, req)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return data, nil
}

// runValidate loads every logic version in dir, which fails on the first
// invalid file, and lists what would be served.
func runValidate(dir string, out io.Writer) error {
	reg, err := config.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, v := range reg.Versions() {
		cfg, _ := reg.Get(v)
		fmt.Fprintf(out, "ok  %s  (%s mode, %d categories)\n", v, cfg.ClassificationMode, len(cfg.CategoryWeights))
	}
	fmt.Fprintf(out, "latest: %s\n", reg.Latest().LogicVersion)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `MatchIQ v%s: compatibility scoring MCP server

Usage:
  matchiq serve                     Start the MCP server (stdio transport)
  matchiq score <request.json|->    Score a scan request and print the result
  matchiq config validate <dir>     Validate a directory of logic versions
  matchiq version                   Print the version

Environment:
  MATCHIQ_CONFIG_DIR         Directory of logic version YAML files (default: built in)
  MATCHIQ_LOGIC_VERSION      Version used when a request names none (default: latest)
  MATCHIQ_DATA_DIR           SQLite flag history location (default: ~/.matchiq)
  MATCHIQ_DB_DRIVER          sqlite or postgres (default: sqlite)
  MATCHIQ_DATABASE_URL       Postgres DSN, required for postgres
  MATCHIQ_REDIS_ADDR         Optional Redis cache for history reads
  MATCHIQ_HISTORY_CACHE_TTL  Cache TTL (default: 5m)
  MATCHIQ_LOG_LEVEL          debug, info, warn or error (default: info)
  MATCHIQ_LOG_FORMAT         json or console (default: json)

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "matchiq": {
        "command": "matchiq",
        "args": ["serve"]
      }
    }
  }
`, miqserver.Version)
}
