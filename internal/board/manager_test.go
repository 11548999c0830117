package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), WithLockTimeout(5*time.Second))
}

func mustAdd(t *testing.T, m *Manager, task *Task) string {
	t.Helper()
	id, err := m.AddTask(context.Background(), task)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	return id
}

// advance walks a task through the dispatch path to the given status.
func advance(t *testing.T, m *Manager, id string, to Status) {
	t.Helper()
	ctx := context.Background()
	path := []Status{StatusProcessing, StatusDispatched}
	for _, s := range path {
		if s == to {
			break
		}
		if _, err := m.UpdateStatus(ctx, id, s, "dispatcher", ""); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", s, err)
		}
	}
	if _, err := m.UpdateStatus(ctx, id, to, "dispatcher", ""); err != nil {
		t.Fatalf("UpdateStatus(%s): %v", to, err)
	}
}

func TestAddAndGetTask(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build", Priority: PriorityHigh, CreatedBy: "human"})

	got, err := m.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status: got %s, want PENDING", got.Status)
	}
	if len(got.History) != 1 {
		t.Errorf("history entries: got %d, want 1", len(got.History))
	}

	// New tasks land on the backlog.
	backlog, err := m.Snapshot(ctx, Backlog)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(backlog) != 1 || backlog[0].ID != id {
		t.Errorf("backlog: got %v", backlog)
	}
}

func TestAddTaskRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, &Task{ID: "T1", TaskType: "build"})

	_, err := m.AddTask(ctx, &Task{ID: "T1", TaskType: "test"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}

	// Even when the original has moved to another board.
	advance(t, m, "T1", StatusDispatched)
	_, err = m.AddTask(ctx, &Task{ID: "T1", TaskType: "test"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID after move, got %v", err)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, id, StatusCompleted, "Agent-2", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// COMPLETED → PENDING is illegal and must leave the record intact.
	_, err := m.UpdateStatus(ctx, id, StatusPending, "Agent-2", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := m.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status after rejected transition: got %s, want COMPLETED", got.Status)
	}
}

func TestTerminalStatusMovesToCompletedBoard(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{ID: "T1", TaskType: "build", Priority: PriorityHigh})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	got, err := m.UpdateStatus(ctx, id, StatusCompleted, "Agent-2", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(got.History) < 4 {
		t.Errorf("history entries: got %d, want at least 4", len(got.History))
	}

	completed, err := m.Snapshot(ctx, Completed)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != id {
		t.Errorf("completed board: got %v", completed)
	}

	// And exactly one board holds the task.
	count := 0
	for _, n := range Names() {
		tasks, err := m.Snapshot(ctx, n)
		if err != nil {
			t.Fatalf("Snapshot(%s): %v", n, err)
		}
		for _, task := range tasks {
			if task.ID == id {
				count++
			}
		}
	}
	if count != 1 {
		t.Errorf("task appears on %d boards, want 1", count)
	}
}

func TestCompleteWritesResultWithTransition(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	got, err := m.Complete(ctx, id, "Agent-2", "all checks green")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status: got %s, want COMPLETED", got.Status)
	}
	if got.Result != "all checks green" {
		t.Errorf("result: got %q", got.Result)
	}

	// The result is recorded in the same write as the transition, and
	// never after it: a record with the terminal entry always carries
	// the result already.
	resultIdx, statusIdx := -1, -1
	for i, c := range got.History {
		if c.Field == "result" {
			resultIdx = i
		}
		if c.Field == "status" && c.New == string(StatusCompleted) {
			statusIdx = i
		}
	}
	if resultIdx < 0 || statusIdx < 0 {
		t.Fatalf("missing history entries: result=%d status=%d", resultIdx, statusIdx)
	}
	if resultIdx > statusIdx {
		t.Errorf("result recorded after terminal transition (result=%d, status=%d)", resultIdx, statusIdx)
	}
}

func TestClaimTaskAtMostOneClaimant(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{ID: "T2", TaskType: "build"})
	advance(t, m, id, StatusDispatched)

	const claimants = 8
	var wg sync.WaitGroup
	errs := make([]error, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.ClaimTask(ctx, id, fmt.Sprintf("Agent-%d", i))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if !errors.Is(err, ErrAlreadyClaimed) {
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("successful claims: got %d, want 1", won)
	}
}

func TestClaimTaskRespectsReservation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build", TargetAgent: "Agent-3"})
	advance(t, m, id, StatusDispatched)

	if _, err := m.ClaimTask(ctx, id, "Agent-4"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("claim by wrong agent: expected ErrAlreadyClaimed, got %v", err)
	}

	got, err := m.ClaimTask(ctx, id, "Agent-3")
	if err != nil {
		t.Fatalf("claim by reserved agent: %v", err)
	}
	if got.Status != StatusClaimed || got.TargetAgent != "Agent-3" {
		t.Errorf("claimed task: got status %s target %s", got.Status, got.TargetAgent)
	}
}

func TestClaimRequiresDispatched(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("claim of PENDING task: expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestDependenciesGateInProgress(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	dep := mustAdd(t, m, &Task{ID: "DEP", TaskType: "build"})
	id := mustAdd(t, m, &Task{ID: "MAIN", TaskType: "test", Dependencies: []string{"DEP"}})

	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	_, err := m.UpdateStatus(ctx, id, StatusInProgress, "Agent-2", "")
	if !errors.Is(err, ErrDependenciesUnmet) {
		t.Fatalf("expected ErrDependenciesUnmet, got %v", err)
	}

	// Complete the dependency, then the transition is allowed.
	advance(t, m, dep, StatusDispatched)
	if _, err := m.ClaimTask(ctx, dep, "Agent-1"); err != nil {
		t.Fatalf("claim dep: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, dep, StatusCompleted, "Agent-1", ""); err != nil {
		t.Fatalf("complete dep: %v", err)
	}

	if _, err := m.UpdateStatus(ctx, id, StatusInProgress, "Agent-2", ""); err != nil {
		t.Fatalf("start after dep completed: %v", err)
	}
}

func TestBlockedUnblockCycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, id, StatusInProgress, "Agent-2", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, id, StatusBlocked, "Agent-2", "waiting on credentials"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, id, StatusInProgress, "Agent-2", "unblocked"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
}

func TestMoveTaskNeverDuplicates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{ID: "T1", TaskType: "build"})

	if err := m.MoveTask(ctx, id, Backlog, ReadyQueue); err != nil {
		t.Fatalf("MoveTask: %v", err)
	}

	count := 0
	for _, n := range Names() {
		tasks, _ := m.Snapshot(ctx, n)
		for _, task := range tasks {
			if task.ID == id {
				count++
			}
		}
	}
	if count != 1 {
		t.Errorf("task on %d boards after move, want 1", count)
	}

	// Moving from the wrong source fails cleanly.
	if err := m.MoveTask(ctx, id, Backlog, Working); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("move from wrong board: expected ErrTaskNotFound, got %v", err)
	}
}

func TestListTasksFilterAndOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, &Task{ID: "A", TaskType: "build"})
	time.Sleep(2 * time.Millisecond)
	mustAdd(t, m, &Task{ID: "B", TaskType: "test"})
	time.Sleep(2 * time.Millisecond)
	mustAdd(t, m, &Task{ID: "C", TaskType: "build", TargetAgent: "Agent-2"})

	all, err := m.ListTasks(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 || all[0].ID != "A" || all[2].ID != "C" {
		t.Errorf("order: got %v", ids(all))
	}

	builds, err := m.ListTasks(ctx, Filter{TaskType: "build"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(builds) != 2 {
		t.Errorf("build tasks: got %d, want 2", len(builds))
	}

	targeted, err := m.ListTasks(ctx, Filter{TargetAgent: "Agent-2"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(targeted) != 1 || targeted[0].ID != "C" {
		t.Errorf("targeted: got %v", ids(targeted))
	}
}

func TestReopenCreatesNewHistory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	done, err := m.UpdateStatus(ctx, id, StatusCompleted, "Agent-2", "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	historyBefore := len(done.History)

	reopened, err := m.Reopen(ctx, id, "human", "needs rework")
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if reopened.Status != StatusPending {
		t.Errorf("status: got %s, want PENDING", reopened.Status)
	}
	if len(reopened.History) <= historyBefore {
		t.Errorf("history: got %d entries, want more than %d", len(reopened.History), historyBefore)
	}

	// Reopening an active task is rejected.
	if _, err := m.Reopen(ctx, id, "human", ""); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("reopen active: expected ErrNotTerminal, got %v", err)
	}
}

func TestArchiveAfterRetention(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, id, StatusCompleted, "Agent-2", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Fresh terminal tasks stay put.
	n, err := m.Archive(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if n != 0 {
		t.Errorf("archived: got %d, want 0", n)
	}

	// Past retention they are archived in place.
	n, err = m.Archive(ctx, 0)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if n != 1 {
		t.Errorf("archived: got %d, want 1", n)
	}

	got, err := m.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != StatusArchived {
		t.Errorf("status: got %s, want ARCHIVED", got.Status)
	}
}

func TestLastActivityByActor(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := mustAdd(t, m, &Task{TaskType: "build"})
	advance(t, m, id, StatusDispatched)
	if _, err := m.ClaimTask(ctx, id, "Agent-2"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	last, err := m.LastActivityByActor(ctx, "Agent-2")
	if err != nil {
		t.Fatalf("LastActivityByActor: %v", err)
	}
	if last.IsZero() {
		t.Error("expected non-zero activity for Agent-2")
	}

	none, err := m.LastActivityByActor(ctx, "Agent-99")
	if err != nil {
		t.Fatalf("LastActivityByActor: %v", err)
	}
	if !none.IsZero() {
		t.Errorf("expected zero activity for unknown agent, got %v", none)
	}
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
