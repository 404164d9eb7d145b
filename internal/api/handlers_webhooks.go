package api

import (
	"net/http"

	"github.com/jordanhubbard/axis/internal/webhooks"
)

// CompleteActionRequest is the body of POST /output-actions/{id}/complete
type CompleteActionRequest struct {
	Notes string `json:"notes"`
}

// RegisterWebhookRequest is the body of POST /webhooks
type RegisterWebhookRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// handleOutputAction handles GET /output-actions/{id} and POST /output-actions/{id}/complete
func (s *Server) handleOutputAction(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, apiPrefix+"/output-actions/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	current, err := s.Webhooks.GetAction(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.authorize(r, current.CompanyID, false); err != nil {
		s.respondErr(w, r, err)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.respondJSON(w, http.StatusOK, current)
	case action == "complete" && r.Method == http.MethodPost:
		var in CompleteActionRequest
		if err := s.parseJSON(r, &in); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		userID, _ := s.reviewer(r)
		res, err := s.Webhooks.CompleteAction(r.Context(), id, userID, in.Notes)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, res)
	case action == "" || action == "complete":
		methodNotAllowed(w)
	default:
		http.NotFound(w, r)
	}
}

// handleWebhooks handles POST /api/v1/webhooks. The secret is returned once.
func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	companyID := s.companyID(r)
	if err := s.authorize(r, companyID, true); err != nil {
		s.respondErr(w, r, err)
		return
	}
	var in RegisterWebhookRequest
	if err := s.parseJSON(r, &in); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	hook, secret, err := s.Webhooks.Register(r.Context(), companyID, in.Name, in.URL)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"webhook": hook, "secret": secret})
}

// handleWebhookCallback handles POST /api/v1/webhooks/callback
func (s *Server) handleWebhookCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var cb webhooks.Callback
	if err := s.parseJSON(r, &cb); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := s.Webhooks.HandleCallback(r.Context(), cb)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"status":            res.Action.Status,
		"already_processed": res.AlreadyProcessed,
	})
}
