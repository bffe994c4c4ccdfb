// Package api exposes the HTTP surface: SSE chat, single-shot tool
// invocation, tool listing, approvals, health, and metrics.
package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conduitlabs/conduit/internal/metrics"
	"github.com/conduitlabs/conduit/internal/provider"
	"github.com/conduitlabs/conduit/internal/tools"
)

// knownProviders are the vendor names chat requests may ask for.
var knownProviders = map[string]bool{"openai": true, "anthropic": true}

// Config carries the request-independent settings the handlers need.
type Config struct {
	DefaultProvider string
	MaxIterations   int
	TextBudget      int
	Workspace       string
}

// Server holds the wired collaborators for all handlers.
type Server struct {
	providers map[string]provider.Provider // configured adapters by name
	deps      tools.Deps
	metrics   *metrics.Metrics
	cfg       Config
}

// NewServer creates a Server. providers holds only adapters whose
// credentials are configured; m may be nil.
func NewServer(providers map[string]provider.Provider, deps tools.Deps, m *metrics.Metrics, cfg Config) *Server {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "openai"
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &Server{providers: providers, deps: deps, metrics: m, cfg: cfg}
}

// Routes returns the service mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /tools", s.handleToolInvoke)
	mux.HandleFunc("GET /tools", s.handleToolList)
	mux.HandleFunc("GET /approvals", s.handleApprovalList)
	mux.HandleFunc("POST /approvals/{id}", s.handleApprovalResolve)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// selectProvider resolves the requested provider name, distinguishing
// unknown vendors from configured-but-credential-less ones.
func (s *Server) selectProvider(name string) (provider.Provider, int, error) {
	if name == "" {
		name = s.cfg.DefaultProvider
	}
	if !knownProviders[name] {
		return nil, http.StatusBadRequest, fmt.Errorf("unknown provider: %s", name)
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, http.StatusUnauthorized, fmt.Errorf("provider %s is not configured: missing API key", name)
	}
	return p, 0, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
