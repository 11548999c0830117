package board

import "errors"

// Errors surfaced by the board manager. Filesystem-level failures are
// wrapped at this boundary; callers never handle raw I/O errors.
var (
	// ErrDuplicateID indicates the task id already exists on a board.
	ErrDuplicateID = errors.New("task id already exists")

	// ErrTaskNotFound indicates no board holds the requested task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadyClaimed indicates the task is claimed by, or reserved
	// for, another agent. Retryable after backoff.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrInvalidTransition indicates an illegal status change. The task
	// record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDependenciesUnmet indicates a task cannot start while a
	// dependency is not completed.
	ErrDependenciesUnmet = errors.New("dependencies not completed")

	// ErrUnknownBoard indicates an unrecognized board name.
	ErrUnknownBoard = errors.New("unknown board")

	// ErrNotTerminal indicates an operation that requires a terminal
	// task (reopen, archive) was attempted on an active one.
	ErrNotTerminal = errors.New("task is not in a terminal state")
)
