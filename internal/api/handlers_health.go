package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/jordanhubbard/axis/internal/logging"
)

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status       string               `json:"status"` // "healthy", "unhealthy"
	Timestamp    time.Time            `json:"timestamp"`
	Uptime       int64                `json:"uptime_seconds"`
	Dependencies map[string]DepHealth `json:"dependencies"`
}

// DepHealth represents the health of a dependency.
type DepHealth struct {
	Status  string `json:"status"` // "healthy", "unhealthy"
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

var startTime = time.Now()

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	status := HealthStatus{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		Uptime:       int64(time.Since(startTime).Seconds()),
		Dependencies: map[string]DepHealth{},
	}

	names := make([]string, 0, len(s.Health))
	for name := range s.Health {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := s.Health[name]
		if check == nil {
			continue
		}
		start := time.Now()
		dep := DepHealth{Status: "healthy"}
		if err := check(); err != nil {
			dep = DepHealth{Status: "unhealthy", Message: err.Error()}
			status.Status = "unhealthy"
		}
		dep.Latency = time.Since(start).Milliseconds()
		status.Dependencies[name] = dep
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

// handleLogs handles GET /api/v1/logs?limit=&level=&source=&task_id=&role_id=&since=
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if err := s.authorize(r, "", true); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if s.Logs == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"logs": []logging.LogEntry{}, "count": 0})
		return
	}

	q := r.URL.Query()
	limit := 100
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}
	f := logging.Filter{
		Level:  q.Get("level"),
		Source: q.Get("source"),
		TaskID: q.Get("task_id"),
		RoleID: q.Get("role_id"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid 'since' parameter")
			return
		}
		f.Since = t
	}

	logs := s.Logs.GetRecent(limit, f)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}
