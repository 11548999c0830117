// Package board implements the shared task boards and the Project Board
// Manager, the single component allowed to mutate board files. Boards
// are whole-file JSON arrays on a shared filesystem; every mutation is
// a lock-scoped read-verify-write so independent processes can share
// them without a database.
package board

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDispatched Status = "DISPATCHED"
	StatusClaimed    Status = "CLAIMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusBlocked    Status = "BLOCKED"
	StatusArchived   Status = "ARCHIVED"
)

// transitions is the status state machine. Reopening a terminal task is
// a separate operation, not a transition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusDispatched, StatusPending, StatusFailed},
	StatusDispatched: {StatusClaimed},
	StatusClaimed:    {StatusInProgress, StatusCompleted, StatusFailed, StatusPending},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusBlocked},
	StatusBlocked:    {StatusInProgress, StatusFailed},
	StatusCompleted:  {StatusArchived},
	StatusFailed:     {StatusArchived},
	StatusArchived:   {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s ends the normal lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusArchived
}

// CanTransition reports whether s → to is a legal transition.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Priority represents the urgency of a task.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Change is one entry of a task's append-only audit trail. History
// entries are never rewritten.
type Change struct {
	Field     string    `json:"field"`
	Old       string    `json:"old_value"`
	New       string    `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
}

// Task is a single task record as persisted inside a board file.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	Status       Status    `json:"status"`
	TaskType     string    `json:"task_type"`
	TargetAgent  string    `json:"target_agent,omitempty"`
	Priority     Priority  `json:"priority"`
	Dependencies []string  `json:"dependencies,omitempty"`
	History      []Change  `json:"history"`
	Error        string    `json:"error,omitempty"`
	Result       string    `json:"result,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}

// Clone returns a deep copy of the task. Manager read operations return
// clones so callers can never mutate board state in place.
func (t *Task) Clone() *Task {
	clone := *t
	if t.Dependencies != nil {
		clone.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.History != nil {
		clone.History = append([]Change(nil), t.History...)
	}
	return &clone
}

// recordChange appends a history entry and bumps UpdatedAt.
func (t *Task) recordChange(field, old, new, actor string) {
	now := time.Now().UTC()
	t.History = append(t.History, Change{
		Field:     field,
		Old:       old,
		New:       new,
		Timestamp: now,
		Actor:     actor,
	})
	t.UpdatedAt = now
}

// LastChange returns the timestamp of the most recent history entry,
// falling back to UpdatedAt for records without history. Reconciliation
// uses this as the duplicate tie-break.
func (t *Task) LastChange() time.Time {
	if len(t.History) == 0 {
		return t.UpdatedAt
	}
	return t.History[len(t.History)-1].Timestamp
}

// Name identifies one of the shared boards.
type Name string

const (
	Backlog    Name = "backlog"
	ReadyQueue Name = "ready_queue"
	Working    Name = "working"
	Completed  Name = "completed"
)

// Names returns all board names in canonical lock-acquisition order.
func Names() []Name {
	return []Name{Backlog, ReadyQueue, Working, Completed}
}

// Valid reports whether n is a known board.
func (n Name) Valid() bool {
	switch n {
	case Backlog, ReadyQueue, Working, Completed:
		return true
	}
	return false
}

// homeBoard maps a status to the board that owns tasks in that state.
func homeBoard(s Status) Name {
	switch s {
	case StatusPending, StatusProcessing:
		return Backlog
	case StatusDispatched:
		return ReadyQueue
	case StatusClaimed, StatusInProgress, StatusBlocked:
		return Working
	default:
		return Completed
	}
}
