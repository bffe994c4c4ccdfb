// Package toolreg declares the agent-callable tool contract and the
// per-request registry that holds registered tools.
package toolreg

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/conduitlabs/conduit/internal/provider"
)

// Kind classifies what a tool contributes to the conversation. The loop's
// continuation policy keys off this: only analysis tools produce new
// information worth another model turn.
type Kind int

const (
	// KindAnalysis tools produce data the model can reason over.
	KindAnalysis Kind = iota
	// KindControl tools steer the loop (e.g. an explicit continue signal).
	KindControl
	// KindTerminal tools end the loop (completion, approval hand-off).
	KindTerminal
)

// Per-class execution timeouts.
const (
	DefaultTimeout = 30 * time.Second
	SQLTimeout     = 45 * time.Second
	LookupTimeout  = 15 * time.Second
	BatchTimeout   = 60 * time.Second
)

// Row is one tabular result row.
type Row = map[string]any

// SearchHit is one knowledge-base match.
type SearchHit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Result is the outcome of one tool execution. Data and Error are
// mutually exclusive; Truncated and ContextSummary are set by the
// truncation policy before the result enters conversation history.
type Result struct {
	Success        bool   `json:"success"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
	ContextSummary string `json:"contextSummary,omitempty"`
}

// Errorf builds a failed Result.
func Errorf(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool is the interface all agent-callable tools implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema object
	Kind() Kind
	Timeout() time.Duration
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Registry holds the tools available to one request. It is built once per
// request by a factory and treated as read-only afterwards, so it is safe
// to share with the batch tool's concurrent sub-invocations.
type Registry struct {
	tools map[string]Tool
	names []string // registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.names = append(r.names, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tools, optionally filtered to an allowed subset
// of names. Order follows registration order.
func (r *Registry) List(filter ...string) []Tool {
	allowed := map[string]bool{}
	for _, name := range filter {
		allowed[name] = true
	}
	out := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	sort.Strings(out)
	return out
}

// Definitions converts registered tools to provider tool declarations.
func (r *Registry) Definitions(filter ...string) []provider.ToolDefinition {
	tools := r.List(filter...)
	defs := make([]provider.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// NamesByKind returns the names of registered tools with the given kind.
func (r *Registry) NamesByKind(k Kind) []string {
	var out []string
	for _, name := range r.names {
		if r.tools[name].Kind() == k {
			out = append(out, name)
		}
	}
	return out
}
