package api

import (
	"net/http"

	"github.com/jordanhubbard/axis/pkg/models"
)

// ResolveRequest is the body of POST /dead-letter/{id}/resolve
type ResolveRequest struct {
	Resolution models.DeadLetterResolution `json:"resolution"`
	Notes      string                      `json:"notes"`
}

// handleDeadLetters handles GET /api/v1/dead-letter
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	companyID := s.companyID(r)
	if companyID == "" {
		s.respondError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	all := r.URL.Query().Get("all") == "true"
	entries, err := s.Tasks.DeadLetters(r.Context(), companyID, !all)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.DeadLetterEntry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

// handleDeadLetter handles POST /api/v1/dead-letter/{id}/resolve
func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, apiPrefix+"/dead-letter/")
	if id == "" || action != "resolve" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	entry, err := s.Tasks.GetDeadLetter(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.authorize(r, entry.CompanyID, true); err != nil {
		s.respondErr(w, r, err)
		return
	}

	var in ResolveRequest
	if err := s.parseJSON(r, &in); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID, _ := s.reviewer(r)
	entry, task, err := s.Tasks.ResolveDeadLetter(r.Context(), id, in.Resolution, userID, in.Notes)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"entry": entry, "task": task})
}
