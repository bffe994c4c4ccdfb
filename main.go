package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/conduitlabs/conduit/internal/agent"
	"github.com/conduitlabs/conduit/internal/api"
	"github.com/conduitlabs/conduit/internal/approvals"
	"github.com/conduitlabs/conduit/internal/bus"
	"github.com/conduitlabs/conduit/internal/metrics"
	"github.com/conduitlabs/conduit/internal/provider"
	"github.com/conduitlabs/conduit/internal/store"
	"github.com/conduitlabs/conduit/internal/tools"
)

func main() {
	loadDotenv(".env")

	cfg, err := LoadConfig("conduit.yaml")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(cfg)
	case "mcp":
		runMCP(cfg)
	case "ask":
		runAsk(cfg, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `conduit - LLM tool-calling orchestration service

Usage:
  conduit serve            HTTP server (SSE chat, tools, metrics)
  conduit mcp              Expose tools over MCP on stdio
  conduit ask "question"   One-shot loop run from the command line
`)
}

// buildDeps wires the process-wide tool resources from config.
func buildDeps(ctx context.Context, cfg Config) (tools.Deps, func()) {
	deps := tools.Deps{Approvals: approvals.New()}
	var closers []func()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open store failed", slog.String("path", cfg.DBPath), slog.Any("error", err))
		os.Exit(1)
	}
	deps.Store = st
	closers = append(closers, func() { st.Close() })

	if cfg.WarehouseDSN != "" {
		connectCtx, cancel := context.WithTimeout(ctx, warehouseConnectTimeout)
		pool, err := pgxpool.New(connectCtx, cfg.WarehouseDSN)
		cancel()
		if err != nil {
			slog.Error("connect warehouse failed", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Warehouse = pool
		closers = append(closers, pool.Close)
	} else {
		slog.Warn("no warehouse DSN configured, run_query disabled")
	}

	return deps, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// buildProviders constructs the adapters whose credentials are present.
// The default provider gets the configured fallback chained after it.
func buildProviders(cfg Config) map[string]provider.Provider {
	out := make(map[string]provider.Provider)
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.BaseURL != "" {
		out["openai"] = provider.NewOpenAI(provider.OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
		})
	}
	if cfg.Anthropic.APIKey != "" {
		out["anthropic"] = provider.NewAnthropic(provider.AnthropicConfig{
			BaseURL: cfg.Anthropic.BaseURL,
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
		})
	}
	if primary, ok := out[cfg.DefaultProvider]; ok {
		fallback := out[cfg.Fallback]
		out[cfg.DefaultProvider] = provider.WithFallback(primary, fallback)
	}
	return out
}

func runServe(cfg Config) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps := buildDeps(ctx, cfg)
	defer closeDeps()

	m := metrics.New(prometheus.DefaultRegisterer)
	server := api.NewServer(buildProviders(cfg), deps, m, api.Config{
		DefaultProvider: cfg.DefaultProvider,
		MaxIterations:   cfg.MaxIterations,
		TextBudget:      cfg.TextBudget,
		Workspace:       cfg.Workspace,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("conduit HTTP server", slog.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func runAsk(cfg Config, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: conduit ask \"question\"")
		os.Exit(1)
	}
	question := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps := buildDeps(ctx, cfg)
	defer closeDeps()

	providers := buildProviders(cfg)
	p, ok := providers[cfg.DefaultProvider]
	if !ok {
		slog.Error("default provider is not configured", slog.String("provider", cfg.DefaultProvider))
		os.Exit(1)
	}

	registry := tools.BuildRegistry(deps)
	loop := agent.NewLoop(p, registry, deps.Store, nil,
		agent.BuildSystemPrompt(cfg.Workspace),
		agent.Config{MaxIterations: cfg.MaxIterations, TextBudget: cfg.TextBudget})

	conversationID, err := deps.Store.CreateOrGetConversation(ctx, "", "cli", p.Name())
	if err != nil {
		slog.Error("create conversation failed", slog.Any("error", err))
		os.Exit(1)
	}

	sink := bus.New(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			switch ev.Type {
			case bus.TypeText:
				fmt.Print(ev.Text)
			case bus.TypeToolError:
				fmt.Fprintf(os.Stderr, "\n[tool %s failed: %s]\n", ev.Tool, ev.Error)
			case bus.TypeDone:
				fmt.Println()
			}
		}
	}()

	history := []provider.Message{{Role: provider.RoleUser, Content: question}}
	_, runErr := loop.Run(ctx, conversationID, history, sink)
	sink.Close()
	<-done
	if runErr != nil {
		slog.Error("loop failed", slog.Any("error", runErr))
		os.Exit(1)
	}
}
