package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/auth"
	"github.com/jordanhubbard/axis/internal/autonomy"
	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/webhooks"
	"github.com/jordanhubbard/axis/internal/workflow"
)

// statusFor maps service errors onto response codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, webhooks.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, tasks.ErrDeadLetterNotFound),
		errors.Is(err, workflow.ErrRequestNotFound),
		errors.Is(err, autonomy.ErrRoleNotFound),
		errors.Is(err, webhooks.ErrActionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, tasks.ErrInvalidTask),
		errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, tasks.ErrTerminalState),
		errors.Is(err, tasks.ErrMaxAttemptsReached),
		errors.Is(err, tasks.ErrAttemptConflict),
		errors.Is(err, tasks.ErrDependenciesPending),
		errors.Is(err, tasks.ErrAlreadyResolved),
		errors.Is(err, workflow.ErrInvalidRequest),
		errors.Is(err, workflow.ErrInvalidReview),
		errors.Is(err, webhooks.ErrInvalidCallback),
		errors.Is(err, store.ErrConflict):
		return http.StatusBadRequest

	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrQuotaExhausted):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// respondErr writes err with its mapped status. Internal failures are logged
// and not echoed to the caller.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.respondError(w, status, "internal error")
		return
	}
	s.respondError(w, status, err.Error())
}
