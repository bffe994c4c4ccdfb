package tools

import (
	"context"
	"time"

	"github.com/conduitlabs/conduit/internal/store"
	"github.com/conduitlabs/conduit/internal/toolreg"
)

const defaultTopK = 5

// kbSearchTool searches the knowledge-base corpus for past findings.
type kbSearchTool struct {
	store *store.Store
}

func (t *kbSearchTool) Name() string { return "kb_search" }

func (t *kbSearchTool) Description() string {
	return "Search the knowledge base for relevant documents. Use this to look up domain context before answering questions about it."
}

func (t *kbSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"top_k": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *kbSearchTool) Kind() toolreg.Kind { return toolreg.KindAnalysis }

func (t *kbSearchTool) Timeout() time.Duration { return toolreg.LookupTimeout }

func (t *kbSearchTool) Execute(ctx context.Context, args map[string]any) (*toolreg.Result, error) {
	query := getString(args, "query")
	if query == "" {
		return toolreg.Errorf("missing required argument: query"), nil
	}
	topK := getInt(args, "top_k", defaultTopK)

	hits, err := t.store.SearchDocuments(ctx, query, topK*4)
	if err != nil {
		return toolreg.Errorf("knowledge base search failed: %v", err), nil
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return &toolreg.Result{Success: true, Data: hits}, nil
}
