package board

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dreamos-ai/dreamos/internal/events"
	"github.com/dreamos-ai/dreamos/internal/fslock"
	"github.com/dreamos-ai/dreamos/internal/storage/fsstore"
)

// Manager is the Project Board Manager: the sole writer of board files.
// Every mutation acquires the file locks of the boards it touches and
// performs the read-verify-write under the held locks, so concurrent
// managers in separate processes serialize correctly. Within a process
// an additional mutex keeps goroutines from racing on the same locks.
type Manager struct {
	mu          sync.Mutex
	root        string
	lockTimeout time.Duration
	bus         *events.Bus
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockTimeout bounds how long board lock acquisition may wait.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// WithBus attaches an event bus the manager publishes board events to.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// NewManager creates a Manager rooted at dir. Board files are created
// lazily on first write.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		root:        dir,
		lockTimeout: fslock.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) boardPath(n Name) string {
	return filepath.Join(m.root, string(n)+".json")
}

func (m *Manager) lockPath(n Name) string {
	return m.boardPath(n) + ".lock"
}

// lockBoards acquires the file locks for the given boards in canonical
// order and returns a release function. Acquiring in one fixed order
// regardless of caller prevents cross-process deadlock.
func (m *Manager) lockBoards(ctx context.Context, names ...Name) (func(), error) {
	ordered := append([]Name(nil), names...)
	rank := map[Name]int{Backlog: 0, ReadyQueue: 1, Working: 2, Completed: 3}
	sort.Slice(ordered, func(i, j int) bool { return rank[ordered[i]] < rank[ordered[j]] })

	var held []*fslock.Lock
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release()
		}
	}

	for _, n := range ordered {
		lock, err := fslock.Acquire(ctx, m.lockPath(n), "pbm", m.lockTimeout)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}

// load reads one board file. A missing file is an empty board.
func (m *Manager) load(n Name) ([]*Task, error) {
	var tasks []*Task
	if err := fsstore.ReadJSON(m.boardPath(n), &tasks); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load board %s: %w", n, err)
	}
	return tasks, nil
}

func (m *Manager) save(n Name, tasks []*Task) error {
	if tasks == nil {
		tasks = []*Task{}
	}
	if err := fsstore.WriteJSONAtomic(m.boardPath(n), tasks); err != nil {
		return fmt.Errorf("save board %s: %w", n, err)
	}
	return nil
}

func (m *Manager) loadAll() (map[Name][]*Task, error) {
	all := make(map[Name][]*Task, 4)
	for _, n := range Names() {
		tasks, err := m.load(n)
		if err != nil {
			return nil, err
		}
		all[n] = tasks
	}
	return all, nil
}

// findTask locates a task by id across loaded boards.
func findTask(all map[Name][]*Task, id string) (Name, int, *Task) {
	for _, n := range Names() {
		for i, t := range all[n] {
			if t.ID == id {
				return n, i, t
			}
		}
	}
	return "", -1, nil
}

func removeAt(list []*Task, i int) []*Task {
	return append(list[:i], list[i+1:]...)
}

func (m *Manager) publish(e events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

// AddTask validates the record and appends it to the backlog with
// status PENDING. The id must not exist on any board.
func (m *Manager) AddTask(ctx context.Context, t *Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.TaskType == "" {
		return "", fmt.Errorf("add task %s: task_type is required", t.ID)
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !t.Priority.Valid() {
		return "", fmt.Errorf("add task %s: unknown priority %q", t.ID, t.Priority)
	}

	release, err := m.lockBoards(ctx, Names()...)
	if err != nil {
		return "", err
	}
	defer release()

	all, err := m.loadAll()
	if err != nil {
		return "", err
	}
	if n, _, _ := findTask(all, t.ID); n != "" {
		return "", fmt.Errorf("add task %s (already on %s): %w", t.ID, n, ErrDuplicateID)
	}

	now := time.Now().UTC()
	t.Status = StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	t.History = nil
	t.recordChange("status", "", string(StatusPending), t.CreatedBy)

	all[Backlog] = append(all[Backlog], t)
	if err := m.save(Backlog, all[Backlog]); err != nil {
		return "", err
	}

	ev := events.New(events.EventTaskCreated, events.SourceBoard, map[string]any{"task_type": t.TaskType})
	ev.TaskID = t.ID
	ev.AgentID = t.TargetAgent
	m.publish(ev)

	return t.ID, nil
}

// GetTask returns a copy of the task with the given id.
func (m *Manager) GetTask(ctx context.Context, id string) (*Task, error) {
	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	if _, _, t := findTask(all, id); t != nil {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("get task %s: %w", id, ErrTaskNotFound)
}

// UpdateStatus validates the transition against the state machine,
// appends a history entry, and relocates the task to the board that
// owns its new status. The verify-and-write happens under the board
// locks; an illegal transition leaves the record untouched.
func (m *Manager) UpdateStatus(ctx context.Context, id string, to Status, actor, note string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !to.Valid() {
		return nil, fmt.Errorf("update task %s: unknown status %q", id, to)
	}

	release, err := m.lockBoards(ctx, Names()...)
	if err != nil {
		return nil, err
	}
	defer release()

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	cur, idx, t := findTask(all, id)
	if t == nil {
		return nil, fmt.Errorf("update task %s: %w", id, ErrTaskNotFound)
	}

	if !t.Status.CanTransition(to) {
		return nil, fmt.Errorf("task %s: %s -> %s: %w", id, t.Status, to, ErrInvalidTransition)
	}
	if to == StatusInProgress {
		if err := dependenciesCompleted(all, t); err != nil {
			return nil, err
		}
	}

	old := t.Status
	t.Status = to
	t.recordChange("status", string(old), string(to), actor)
	if note != "" {
		t.recordChange("note", "", note, actor)
		if to == StatusFailed {
			t.Error = note
		}
	}

	if err := m.relocate(all, cur, idx, t, actor); err != nil {
		return nil, err
	}

	ev := events.New(events.EventTaskStatus, events.SourceBoard, map[string]any{"from": string(old), "to": string(to)})
	ev.TaskID = id
	ev.AgentID = actor
	m.publish(ev)

	return t.Clone(), nil
}

// Complete marks a task COMPLETED and records its result. The result
// and the transition are written together under one lock scope, so a
// crash cannot persist the one without the other.
func (m *Manager) Complete(ctx context.Context, id, actor, result string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.lockBoards(ctx, Names()...)
	if err != nil {
		return nil, err
	}
	defer release()

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	cur, idx, t := findTask(all, id)
	if t == nil {
		return nil, fmt.Errorf("complete task %s: %w", id, ErrTaskNotFound)
	}
	if !t.Status.CanTransition(StatusCompleted) {
		return nil, fmt.Errorf("task %s: %s -> %s: %w", id, t.Status, StatusCompleted, ErrInvalidTransition)
	}

	old := t.Status
	if result != "" {
		t.recordChange("result", t.Result, result, actor)
		t.Result = result
	}
	t.Status = StatusCompleted
	t.recordChange("status", string(old), string(StatusCompleted), actor)

	if err := m.relocate(all, cur, idx, t, actor); err != nil {
		return nil, err
	}

	ev := events.New(events.EventTaskStatus, events.SourceBoard, map[string]any{"from": string(old), "to": string(StatusCompleted)})
	ev.TaskID = id
	ev.AgentID = actor
	m.publish(ev)

	return t.Clone(), nil
}

// Fail marks a task FAILED and records the error.
func (m *Manager) Fail(ctx context.Context, id, actor, reason string) (*Task, error) {
	return m.UpdateStatus(ctx, id, StatusFailed, actor, reason)
}

// MarkDispatched transitions a PROCESSING task to DISPATCHED and
// records the agent its envelope was delivered to. The routed agent
// becomes the task's reservation unless one was already set.
func (m *Manager) MarkDispatched(ctx context.Context, id, target, actor string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.lockBoards(ctx, Names()...)
	if err != nil {
		return nil, err
	}
	defer release()

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	cur, idx, t := findTask(all, id)
	if t == nil {
		return nil, fmt.Errorf("dispatch task %s: %w", id, ErrTaskNotFound)
	}
	if !t.Status.CanTransition(StatusDispatched) {
		return nil, fmt.Errorf("task %s: %s -> %s: %w", id, t.Status, StatusDispatched, ErrInvalidTransition)
	}

	old := t.Status
	t.Status = StatusDispatched
	t.recordChange("status", string(old), string(StatusDispatched), actor)
	if t.TargetAgent == "" && target != "" {
		t.recordChange("target_agent", "", target, actor)
		t.TargetAgent = target
	}

	if err := m.relocate(all, cur, idx, t, actor); err != nil {
		return nil, err
	}

	ev := events.New(events.EventTaskDispatched, events.SourceBoard, map[string]any{"target": target})
	ev.TaskID = id
	ev.AgentID = actor
	m.publish(ev)

	return t.Clone(), nil
}

// ClaimTask grants at-most-one-claimant ownership of a dispatched task.
// Under the held board locks it re-reads current state, verifies the
// task is DISPATCHED and not reserved for a different agent, and only
// then writes CLAIMED. The check and the write share one lock scope.
func (m *Manager) ClaimTask(ctx context.Context, id, agentID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agentID == "" {
		return nil, fmt.Errorf("claim task %s: agent id is required", id)
	}

	release, err := m.lockBoards(ctx, Names()...)
	if err != nil {
		return nil, err
	}
	defer release()

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	cur, idx, t := findTask(all, id)
	if t == nil {
		return nil, fmt.Errorf("claim task %s: %w", id, ErrTaskNotFound)
	}

	if t.Status != StatusDispatched {
		return nil, fmt.Errorf("claim task %s (status %s): %w", id, t.Status, ErrAlreadyClaimed)
	}
	if t.TargetAgent != "" && t.TargetAgent != agentID {
		return nil, fmt.Errorf("claim task %s (reserved for %s): %w", id, t.TargetAgent, ErrAlreadyClaimed)
	}

	t.Status = StatusClaimed
	t.recordChange("status", string(StatusDispatched), string(StatusClaimed), agentID)
	if t.TargetAgent != agentID {
		t.recordChange("target_agent", t.TargetAgent, agentID, agentID)
		t.TargetAgent = agentID
	}

	if err := m.relocate(all, cur, idx, t, agentID); err != nil {
		return nil, err
	}

	ev := events.New(events.EventTaskClaimed, events.SourceBoard, nil)
	ev.TaskID = id
	ev.AgentID = agentID
	m.publish(ev)

	return t.Clone(), nil
}

// Filter selects tasks for ListTasks. Zero fields match everything.
type Filter struct {
	Board       Name
	Status      Status
	TaskType    string
	TargetAgent string
}

// ListTasks returns a snapshot of matching tasks ordered by creation
// time. The snapshot takes no write lock, so results may be stale by
// the time the caller acts; mutations must go through ClaimTask or
// UpdateStatus, never be derived from a listing.
func (m *Manager) ListTasks(ctx context.Context, f Filter) ([]*Task, error) {
	if f.Board != "" && !f.Board.Valid() {
		return nil, fmt.Errorf("list tasks: %q: %w", f.Board, ErrUnknownBoard)
	}

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}

	var out []*Task
	for _, n := range Names() {
		if f.Board != "" && n != f.Board {
			continue
		}
		for _, t := range all[n] {
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if f.TaskType != "" && t.TaskType != f.TaskType {
				continue
			}
			if f.TargetAgent != "" && t.TargetAgent != f.TargetAgent {
				continue
			}
			out = append(out, t.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Snapshot returns a copy of one board's contents, for read-only
// consumers such as the status gateway.
func (m *Manager) Snapshot(ctx context.Context, n Name) ([]*Task, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("snapshot: %q: %w", n, ErrUnknownBoard)
	}
	tasks, err := m.load(n)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

// MoveTask relocates a task between boards under a single acquisition
// spanning both locks. The destination is written before the source so
// a crash between the writes leaves a duplicate, which the
// reconciliation sweep repairs, rather than a lost task.
func (m *Manager) MoveTask(ctx context.Context, id string, from, to Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !from.Valid() {
		return fmt.Errorf("move task %s: %q: %w", id, from, ErrUnknownBoard)
	}
	if !to.Valid() {
		return fmt.Errorf("move task %s: %q: %w", id, to, ErrUnknownBoard)
	}
	if from == to {
		return nil
	}

	release, err := m.lockBoards(ctx, from, to)
	if err != nil {
		return err
	}
	defer release()

	src, err := m.load(from)
	if err != nil {
		return err
	}
	dst, err := m.load(to)
	if err != nil {
		return err
	}

	idx := -1
	for i, t := range src {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("move task %s: not on %s: %w", id, from, ErrTaskNotFound)
	}
	for _, t := range dst {
		if t.ID == id {
			return fmt.Errorf("move task %s: already on %s: %w", id, to, ErrDuplicateID)
		}
	}

	t := src[idx]
	t.recordChange("board", string(from), string(to), "")

	dst = append(dst, t)
	if err := m.save(to, dst); err != nil {
		return err
	}
	src = removeAt(src, idx)
	if err := m.save(from, src); err != nil {
		return err
	}

	ev := events.New(events.EventTaskMoved, events.SourceBoard, map[string]any{"from": string(from), "to": string(to)})
	ev.TaskID = id
	m.publish(ev)

	return nil
}

// Reopen moves a terminal task back to PENDING. The terminal record is
// not rewritten; reopening is a fresh history entry on top of it.
func (m *Manager) Reopen(ctx context.Context, id, actor, note string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.lockBoards(ctx, Names()...)
	if err != nil {
		return nil, err
	}
	defer release()

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	cur, idx, t := findTask(all, id)
	if t == nil {
		return nil, fmt.Errorf("reopen task %s: %w", id, ErrTaskNotFound)
	}
	if t.Status != StatusCompleted && t.Status != StatusFailed {
		return nil, fmt.Errorf("reopen task %s (status %s): %w", id, t.Status, ErrNotTerminal)
	}

	old := t.Status
	t.Status = StatusPending
	t.TargetAgent = ""
	t.recordChange("status", string(old), string(StatusPending), actor)
	if note != "" {
		t.recordChange("note", "", note, actor)
	}

	if err := m.relocate(all, cur, idx, t, actor); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Archive transitions terminal tasks older than retention to ARCHIVED.
// Archived records stay on the completed board; nothing is deleted.
func (m *Manager) Archive(ctx context.Context, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.lockBoards(ctx, Completed)
	if err != nil {
		return 0, err
	}
	defer release()

	tasks, err := m.load(Completed)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	archived := 0
	for _, t := range tasks {
		if t.Status != StatusCompleted && t.Status != StatusFailed {
			continue
		}
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		old := t.Status
		t.Status = StatusArchived
		t.recordChange("status", string(old), string(StatusArchived), "archiver")
		archived++

		ev := events.New(events.EventTaskArchived, events.SourceBoard, nil)
		ev.TaskID = t.ID
		m.publish(ev)
	}

	if archived == 0 {
		return 0, nil
	}
	if err := m.save(Completed, tasks); err != nil {
		return 0, err
	}
	return archived, nil
}

// LastActivityByActor returns the newest history timestamp attributed
// to the given agent across all boards. Zero time means no activity.
func (m *Manager) LastActivityByActor(ctx context.Context, agentID string) (time.Time, error) {
	all, err := m.loadAll()
	if err != nil {
		return time.Time{}, err
	}

	var last time.Time
	for _, n := range Names() {
		for _, t := range all[n] {
			for _, c := range t.History {
				if c.Actor == agentID && c.Timestamp.After(last) {
					last = c.Timestamp
				}
			}
		}
	}
	return last, nil
}

// relocate saves the task's current board and, when its status maps to
// a different home board, moves it there. Destination is written before
// the source is rewritten.
func (m *Manager) relocate(all map[Name][]*Task, cur Name, idx int, t *Task, actor string) error {
	home := homeBoard(t.Status)
	if home == cur {
		return m.save(cur, all[cur])
	}

	t.recordChange("board", string(cur), string(home), actor)
	all[home] = append(all[home], t)
	if err := m.save(home, all[home]); err != nil {
		return err
	}
	all[cur] = removeAt(all[cur], idx)
	return m.save(cur, all[cur])
}

// dependenciesCompleted verifies every dependency exists and is
// COMPLETED before a task may start.
func dependenciesCompleted(all map[Name][]*Task, t *Task) error {
	for _, depID := range t.Dependencies {
		_, _, dep := findTask(all, depID)
		if dep == nil {
			return fmt.Errorf("task %s: dependency %s: %w", t.ID, depID, ErrTaskNotFound)
		}
		if dep.Status != StatusCompleted {
			return fmt.Errorf("task %s: dependency %s is %s: %w", t.ID, depID, dep.Status, ErrDependenciesUnmet)
		}
	}
	return nil
}
