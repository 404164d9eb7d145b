package workflow

import (
	"errors"
	"fmt"

	"github.com/jordanhubbard/axis/pkg/models"
)

var (
	// ErrAlreadyProcessed is matched by AlreadyProcessedError. Callers treat
	// it as a benign race: reload and carry on.
	ErrAlreadyProcessed = errors.New("workflow request already processed")

	ErrRequestNotFound = errors.New("workflow request not found")
	ErrInvalidRequest  = errors.New("invalid workflow request")
	ErrInvalidReview   = errors.New("invalid review")
)

// AlreadyProcessedError reports the status a request had when a review lost
// the race to claim it.
type AlreadyProcessedError struct {
	RequestID string
	Status    models.RequestStatus
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("workflow request %s already %s", e.RequestID, e.Status)
}

// Is makes errors.Is(err, ErrAlreadyProcessed) true
func (e *AlreadyProcessedError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}
