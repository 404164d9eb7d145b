package tasks

import "errors"

var (
	// ErrTaskNotFound is returned when the task does not exist
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTask is returned when assignment input is rejected
	ErrInvalidTask = errors.New("invalid task")

	// ErrTerminalState is returned when a task can no longer be executed
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrMaxAttemptsReached is returned when the retry budget is already spent
	ErrMaxAttemptsReached = errors.New("task has reached its maximum attempts")

	// ErrAttemptConflict means another attempt claimed the slot first
	ErrAttemptConflict = errors.New("another attempt is already in flight")

	// ErrDependenciesPending is returned when prerequisite tasks are not completed
	ErrDependenciesPending = errors.New("task dependencies are not complete")

	// ErrInvalidTransition is returned when a human action does not apply to the task's status
	ErrInvalidTransition = errors.New("invalid task transition")

	// ErrDeadLetterNotFound is returned when the dead letter entry does not exist
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrAlreadyResolved is returned when a dead letter entry was already resolved
	ErrAlreadyResolved = errors.New("dead letter entry already resolved")

	// ErrInternal wraps unexpected failures after a task started running
	ErrInternal = errors.New("internal task engine error")
)

// IsBenign reports whether err is a race or state outcome that a queued
// continuation should swallow rather than redeliver.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAttemptConflict) ||
		errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrMaxAttemptsReached) ||
		errors.Is(err, ErrDependenciesPending)
}
