package api

import (
	"encoding/json"
	"net/http"
)

// approvalResolveRequest is the POST /approvals/{id} body.
type approvalResolveRequest struct {
	Approved bool `json:"approved"`
}

func (s *Server) handleApprovalList(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Approvals == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.deps.Approvals.Pending()})
}

func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Approvals == nil {
		writeError(w, http.StatusNotFound, "approvals are not enabled")
		return
	}
	id := r.PathValue("id")
	var req approvalResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.deps.Approvals.Resolve(id, req.Approved) {
		writeError(w, http.StatusNotFound, "unknown or already resolved approval: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "approved": req.Approved})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
