package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/conduitlabs/conduit/internal/toolreg"
	"github.com/conduitlabs/conduit/internal/tools"
)

// textOutput is the generic text result for MCP tools.
type textOutput struct {
	Text string `json:"text"`
}

// registerTools exposes every registry tool on the MCP server. Terminal
// and control tools are loop signals, not useful to an external caller,
// so only analysis tools are registered.
func registerTools(server *mcp.Server, registry *toolreg.Registry) int {
	count := 0
	for _, name := range registry.NamesByKind(toolreg.KindAnalysis) {
		t, ok := registry.Get(name)
		if !ok {
			continue
		}
		registerOne(server, t)
		count++
	}
	return count
}

func registerOne(server *mcp.Server, t toolreg.Tool) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: schemaFor(t),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, textOutput, error) {
		res := toolreg.RunWithTimeout(ctx, t, input)
		if !res.Success {
			return nil, textOutput{}, fmt.Errorf("%s failed: %s", t.Name(), res.Error)
		}
		body, err := json.Marshal(res.Data)
		if err != nil {
			return nil, textOutput{}, fmt.Errorf("encode %s result: %w", t.Name(), err)
		}
		text := string(body)
		if res.ContextSummary != "" {
			text += "\n(" + res.ContextSummary + ")"
		}
		return nil, textOutput{Text: text}, nil
	})
}

// schemaFor converts a tool's declared parameter schema into the SDK's
// schema type. Tools declare plain JSON Schema maps, so a JSON round
// trip is the conversion.
func schemaFor(t toolreg.Tool) *jsonschema.Schema {
	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return &s
}

func runMCP(cfg Config) {
	// MCP stdio owns stdout, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()
	deps, closeDeps := buildDeps(ctx, cfg)
	defer closeDeps()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "conduit",
		Version: "1.0.0",
	}, nil)

	registry := tools.BuildRegistry(deps)
	n := registerTools(server, registry)
	logger.Info("conduit MCP server", slog.Int("tools", n))

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Error("stdio server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
