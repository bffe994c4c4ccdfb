// Package tools implements the agent-callable tool backends and the
// per-request registry factory that assembles them.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduitlabs/conduit/internal/toolreg"
)

// defaultQuery is the safe backfill when the model sends an empty query
// argument: list the warehouse's tables instead of failing the call.
const defaultQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name LIMIT 50`

// maxQueryRows bounds how many rows a single query pulls back before the
// truncation policy even sees the result.
const maxQueryRows = 500

// queryTool runs read-only SQL against the analytics warehouse. The pool
// is shared across concurrent requests; pgxpool is safe for that.
type queryTool struct {
	pool *pgxpool.Pool
}

func (t *queryTool) Name() string { return "run_query" }

func (t *queryTool) Description() string {
	return "Execute a read-only SQL query against the analytics warehouse and return the result rows. An empty query lists the available tables."
}

func (t *queryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "SQL SELECT statement to execute",
			},
			"max_rows": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Row cap (default %d)", maxQueryRows),
			},
		},
		"required": []string{"query"},
	}
}

func (t *queryTool) Kind() toolreg.Kind { return toolreg.KindAnalysis }

func (t *queryTool) Timeout() time.Duration { return toolreg.SQLTimeout }

func (t *queryTool) Execute(ctx context.Context, args map[string]any) (*toolreg.Result, error) {
	query := strings.TrimSpace(getString(args, "query"))
	if query == "" {
		query = defaultQuery
	}
	limit := getInt(args, "max_rows", maxQueryRows)
	if limit <= 0 || limit > maxQueryRows {
		limit = maxQueryRows
	}

	rows, err := t.pool.Query(ctx, query)
	if err != nil {
		return toolreg.Errorf("query failed: %v", err), nil
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var out []toolreg.Row
	for rows.Next() {
		if len(out) >= limit {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return toolreg.Errorf("read row: %v", err), nil
		}
		row := make(toolreg.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return toolreg.Errorf("query failed: %v", err), nil
	}

	return &toolreg.Result{Success: true, Data: out}, nil
}
