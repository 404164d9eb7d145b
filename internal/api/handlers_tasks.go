package api

import (
	"net/http"

	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/pkg/models"
)

// TaskDetail is the GET /tasks/{id} body
type TaskDetail struct {
	Task          *models.Task           `json:"task"`
	Attempts      []*models.TaskAttempt  `json:"attempts"`
	OutputActions []*models.OutputAction `json:"output_actions"`
}

// handleTasks handles POST /api/v1/tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var in tasks.AssignInput
	if err := s.parseJSON(r, &in); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.RoleID == "" {
		s.respondError(w, http.StatusBadRequest, "role_id is required")
		return
	}
	role, err := s.Store.GetRole(r.Context(), in.RoleID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.authorize(r, role.CompanyID, false); err != nil {
		s.respondErr(w, r, err)
		return
	}
	in.CompanyID = role.CompanyID

	task, err := s.Tasks.Assign(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, task)
}

// handleTask handles /api/v1/tasks/{id}[/execute|stop|reset|archive]
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, apiPrefix+"/tasks/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	task, err := s.Tasks.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.authorize(r, task.CompanyID, false); err != nil {
		s.respondErr(w, r, err)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.getTask(w, r, task)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	userID, _ := s.reviewer(r)
	ctx := r.Context()
	switch action {
	case "execute":
		res, err := s.Tasks.Execute(ctx, id)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, res)
	case "stop":
		s.respondTask(w, r)(s.Tasks.Stop(ctx, id))
	case "reset":
		s.respondTask(w, r)(s.Tasks.Reset(ctx, id, userID))
	case "archive":
		s.respondTask(w, r)(s.Tasks.Archive(ctx, id, userID))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, task *models.Task) {
	attempts, err := s.Tasks.Recorder().History(r.Context(), task.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	actions, err := s.Store.ListOutputActions(r.Context(), task.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*models.TaskAttempt{}
	}
	if actions == nil {
		actions = []*models.OutputAction{}
	}
	s.respondJSON(w, http.StatusOK, TaskDetail{Task: task, Attempts: attempts, OutputActions: actions})
}

func (s *Server) respondTask(w http.ResponseWriter, r *http.Request) func(*models.Task, error) {
	return func(task *models.Task, err error) {
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, task)
	}
}
