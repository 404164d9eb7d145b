package api

import (
	"net/http"
	"strconv"

	"github.com/jordanhubbard/axis/pkg/models"
)

// handleRole handles POST /roles/{id}/autonomous-loop and GET /roles/{id}/messages
func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, apiPrefix+"/roles/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	role, err := s.Store.GetRole(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.authorize(r, role.CompanyID, false); err != nil {
		s.respondErr(w, r, err)
		return
	}

	switch action {
	case "autonomous-loop":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		d, err := s.Loop.Run(r.Context(), id)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, d)

	case "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit := 50
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
			limit = l
		}
		msgs, err := s.Store.ListRecentMessages(r.Context(), id, limit)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []*models.RoleMessage{}
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})

	default:
		http.NotFound(w, r)
	}
}
