package api

import (
	"errors"
	"net/http"

	"github.com/jordanhubbard/axis/internal/workflow"
	"github.com/jordanhubbard/axis/pkg/models"
)

// ReviewResponse is the body of a successful review
type ReviewResponse struct {
	Success          bool                    `json:"success"`
	Status           models.RequestStatus    `json:"status"`
	AlreadyProcessed bool                    `json:"already_processed,omitempty"`
	Request          *models.WorkflowRequest `json:"request,omitempty"`
	Effects          *workflow.Effects       `json:"effects,omitempty"`
}

// handleWorkflowRequests handles GET /api/v1/workflow-requests?status=
func (s *Server) handleWorkflowRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	companyID := s.companyID(r)
	if companyID == "" {
		s.respondError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	status := models.RequestStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.RequestPending
	}
	if !status.Valid() {
		s.respondError(w, http.StatusBadRequest, "status must be pending, approved or denied")
		return
	}
	reqs, err := s.Gate.List(r.Context(), companyID, status)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*models.WorkflowRequest{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs, "count": len(reqs)})
}

// handleWorkflowRequest handles GET /workflow-requests/{id} and
// POST /workflow-requests/{id}/review
func (s *Server) handleWorkflowRequest(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, apiPrefix+"/workflow-requests/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	req, err := s.Gate.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		if err := s.authorize(r, req.CompanyID, false); err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, req)
	case action == "review" && r.Method == http.MethodPost:
		if err := s.authorize(r, req.CompanyID, true); err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.review(w, r, id)
	case action == "" || action == "review":
		methodNotAllowed(w)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) review(w http.ResponseWriter, r *http.Request, id string) {
	var in workflow.ReviewInput
	if err := s.parseJSON(r, &in); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in.RequestID = id
	in.ReviewerID, in.ReviewerRole = s.reviewer(r)

	res, err := s.Gate.Review(r.Context(), in)
	if err != nil {
		var processed *workflow.AlreadyProcessedError
		if errors.As(err, &processed) {
			s.respondJSON(w, http.StatusOK, ReviewResponse{
				Success:          true,
				Status:           processed.Status,
				AlreadyProcessed: true,
			})
			return
		}
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ReviewResponse{
		Success: true,
		Status:  res.Status,
		Request: res.Request,
		Effects: &res.Effects,
	})
}
