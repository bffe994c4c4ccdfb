package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/conduitlabs/conduit/internal/toolreg"
	"github.com/conduitlabs/conduit/internal/tools"
)

// ToolInvokeRequest is the POST /tools body: a non-streaming single-shot
// invocation used for testing and administration.
type ToolInvokeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolInvokeResponse is the POST /tools reply.
type ToolInvokeResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	var req ToolInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	registry := tools.BuildRegistry(s.deps)
	tool, ok := registry.Get(req.Tool)
	if !ok {
		writeJSON(w, http.StatusNotFound, ToolInvokeResponse{
			Success: false,
			Error:   "Tool not found: " + req.Tool,
		})
		return
	}

	res := toolreg.RunWithTimeout(r.Context(), tool, req.Arguments)
	resp := ToolInvokeResponse{Success: res.Success}
	if res.Success {
		resp.Result = res
	} else {
		resp.Error = res.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

// toolInfo is one entry in the GET /tools listing.
type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *Server) handleToolList(w http.ResponseWriter, _ *http.Request) {
	registry := tools.BuildRegistry(s.deps)
	var out []toolInfo
	for _, t := range registry.List() {
		out = append(out, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}
