package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fleet/internal/orchestrator"
)

// OutcomeRequest is the body of POST /actions/{id}/outcome.
type OutcomeRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// handleGetAction returns the latest committed state of an action.
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.query.GetActionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleReportOutcome records an agent's result for an action. Reports for
// finished actions are rejected with 409.
func (s *Server) handleReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	a, err := s.orch.ReportOutcome(r.Context(), chi.URLParam(r, "id"), orchestrator.Outcome{
		Success: req.Success,
		Message: req.Message,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleListActionTypes returns the accepted action types.
func (s *Server) handleListActionTypes(w http.ResponseWriter, _ *http.Request) {
	types := s.query.ActionTypes()
	writeJSON(w, http.StatusOK, map[string]any{"action_types": types, "count": len(types)})
}
