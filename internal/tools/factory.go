package tools

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduitlabs/conduit/internal/approvals"
	"github.com/conduitlabs/conduit/internal/store"
	"github.com/conduitlabs/conduit/internal/toolreg"
)

// Deps are the external resources tools close over. The pool and store
// are process-wide and safe for concurrent requests; everything else in
// the registry is request-scoped.
type Deps struct {
	Warehouse *pgxpool.Pool // nil disables run_query
	Store     *store.Store
	Approvals *approvals.Manager
}

// BuildRegistry assembles a fresh registry for one request. No
// module-level tool state: every call returns an independent value
// parameterized only by deps.
func BuildRegistry(deps Deps) *toolreg.Registry {
	reg := toolreg.NewRegistry()
	if deps.Warehouse != nil {
		reg.Register(&queryTool{pool: deps.Warehouse})
	}
	if deps.Store != nil {
		reg.Register(&kbSearchTool{store: deps.Store})
	}
	reg.Register(&evalTool{})
	reg.Register(&continueTool{})
	reg.Register(&completeTool{})
	if deps.Approvals != nil {
		reg.Register(&approvalTool{mgr: deps.Approvals})
	}
	reg.Register(toolreg.NewBatchTool(reg))
	return reg
}

// helpers for parsing map[string]any args into typed values

func getString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}
