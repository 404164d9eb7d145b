// Package api serves the governance HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/auth"
	"github.com/jordanhubbard/axis/internal/autonomy"
	"github.com/jordanhubbard/axis/internal/logging"
	"github.com/jordanhubbard/axis/internal/metrics"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/webhooks"
	"github.com/jordanhubbard/axis/internal/workflow"
	"github.com/jordanhubbard/axis/pkg/config"
)

const apiPrefix = "/api/v1"

// Deps are the services the API fronts
type Deps struct {
	Store    store.Store
	Tasks    *tasks.Engine
	Gate     *workflow.Gate
	Loop     *autonomy.Loop
	Webhooks *webhooks.Service
	Auth     *auth.Manager
	Logs     *logging.Manager
	Metrics  *metrics.Metrics
	// Health checks named dependencies; nil entries are skipped
	Health map[string]func() error
}

// Server represents the HTTP API server
type Server struct {
	Deps
	config *config.Config
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewManager(cfg.Security.JWTSecret)
	}
	return &Server{Deps: deps, config: cfg, logger: logger.Named("api")}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc(apiPrefix+"/tasks", s.handleTasks)
	mux.HandleFunc(apiPrefix+"/tasks/", s.handleTask)

	mux.HandleFunc(apiPrefix+"/workflow-requests", s.handleWorkflowRequests)
	mux.HandleFunc(apiPrefix+"/workflow-requests/", s.handleWorkflowRequest)

	mux.HandleFunc(apiPrefix+"/dead-letter", s.handleDeadLetters)
	mux.HandleFunc(apiPrefix+"/dead-letter/", s.handleDeadLetter)

	mux.HandleFunc(apiPrefix+"/roles/", s.handleRole)

	mux.HandleFunc(apiPrefix+"/output-actions/", s.handleOutputAction)
	mux.HandleFunc(apiPrefix+"/webhooks", s.handleWebhooks)
	mux.HandleFunc(apiPrefix+"/webhooks/callback", s.handleWebhookCallback)

	mux.HandleFunc(apiPrefix+"/logs", s.handleLogs)

	// Apply middleware
	handler := s.authMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	return otelhttp.NewHandler(handler, "axis-api")
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests and records request metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.Metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), http.StatusText(rec.status), elapsed.Seconds())
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Security.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range s.config.Security.AllowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware verifies the bearer token and stores the caller in the
// request context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Webhook callbacks authenticate with their api_key instead
		if !strings.HasPrefix(r.URL.Path, apiPrefix+"/") || r.URL.Path == apiPrefix+"/webhooks/callback" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.config.Security.EnableAuth {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := s.Auth.Authenticate(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "Invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// authorize checks the caller against a resource's company. With auth
// disabled every caller is allowed.
func (s *Server) authorize(r *http.Request, companyID string, review bool) error {
	if !s.config.Security.EnableAuth {
		return nil
	}
	return auth.FromContext(r.Context()).Authorize(companyID, review)
}

// companyID is the company a list call is scoped to
func (s *Server) companyID(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return p.CompanyID
	}
	return r.URL.Query().Get("company_id")
}

// reviewer returns the caller's user id and auth role for audit fields
func (s *Server) reviewer(r *http.Request) (string, string) {
	if p := auth.FromContext(r.Context()); p != nil {
		return p.UserID, string(p.Role)
	}
	// auth disabled: local operator
	return "operator", workflow.ReviewerOwner
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body. An empty body leaves v untouched.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// splitPath returns the id and sub-resource after prefix, e.g.
// "/api/v1/tasks/123/execute" -> ("123", "execute")
func splitPath(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ := strings.Cut(rest, "/")
	return id, action
}

// routeLabel replaces ids in path so metrics keep a bounded label set
func routeLabel(path string) string {
	if !strings.HasPrefix(path, apiPrefix+"/") {
		return path
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(parts) >= 2 && parts[1] != "callback" {
		parts[1] = "{id}"
	}
	return apiPrefix + "/" + strings.Join(parts, "/")
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
