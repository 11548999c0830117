package board

import (
	"context"
	"fmt"
	"time"

	"github.com/dreamos-ai/dreamos/internal/events"
)

// DefaultStaleAfter is how long a task may sit in PROCESSING or CLAIMED
// before the reconciliation sweep considers it abandoned.
const DefaultStaleAfter = 10 * time.Minute

// ReconcileOptions configures a reconciliation sweep.
type ReconcileOptions struct {
	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration

	// LiveClaim reports whether an agent currently holds its mailbox
	// claim. When nil, every stale task is considered abandoned.
	LiveClaim func(agentID string) bool
}

// ReconcileReport summarizes what a sweep repaired.
type ReconcileReport struct {
	DuplicatesResolved int
	TasksReset         int
}

// Reconcile repairs board state after a crash. A task found on more
// than one board keeps the copy with the latest history timestamp; a
// task stuck in PROCESSING or CLAIMED past the staleness threshold
// with no live agent claim is reset to PENDING with a history note.
// The sweep is idempotent: running it against a consistent state
// changes nothing.
func (m *Manager) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
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

	report := &ReconcileReport{}

	// Pass 1: resolve duplicates, latest history timestamp wins.
	type located struct {
		board Name
		task  *Task
	}
	winners := make(map[string]located)
	losers := make(map[*Task]Name)

	for _, n := range Names() {
		for _, t := range all[n] {
			prev, seen := winners[t.ID]
			if !seen {
				winners[t.ID] = located{board: n, task: t}
				continue
			}
			if t.LastChange().After(prev.task.LastChange()) {
				losers[prev.task] = prev.board
				winners[t.ID] = located{board: n, task: t}
			} else {
				losers[t] = n
			}
		}
	}

	dirty := make(map[Name]bool)
	if len(losers) > 0 {
		for _, n := range Names() {
			kept := all[n][:0]
			for _, t := range all[n] {
				if from, isLoser := losers[t]; isLoser {
					w := winners[t.ID]
					w.task.recordChange("note", "",
						fmt.Sprintf("duplicate copy removed from %s board", from), "reconciler")
					report.DuplicatesResolved++
					dirty[n] = true
					dirty[w.board] = true
					continue
				}
				kept = append(kept, t)
			}
			all[n] = kept
		}
	}

	// Pass 2: reset abandoned in-flight tasks.
	cutoff := time.Now().Add(-staleAfter)
	for _, n := range []Name{Backlog, ReadyQueue, Working} {
		kept := all[n][:0]
		for _, t := range all[n] {
			if !staleInFlight(t, cutoff, opts.LiveClaim) {
				kept = append(kept, t)
				continue
			}

			old := t.Status
			t.Status = StatusPending
			t.TargetAgent = ""
			t.recordChange("status", string(old), string(StatusPending), "reconciler")
			t.recordChange("note", "", "reset by reconciliation sweep: no live claim", "reconciler")
			report.TasksReset++
			dirty[n] = true

			if n == Backlog {
				kept = append(kept, t)
				continue
			}
			t.recordChange("board", string(n), string(Backlog), "reconciler")
			all[Backlog] = append(all[Backlog], t)
			dirty[Backlog] = true
		}
		all[n] = kept
	}

	for _, n := range Names() {
		if !dirty[n] {
			continue
		}
		if err := m.save(n, all[n]); err != nil {
			return nil, err
		}
	}

	if report.DuplicatesResolved > 0 || report.TasksReset > 0 {
		m.publish(events.New(events.EventBoardRepaired, events.SourceBoard, map[string]any{
			"duplicates_resolved": report.DuplicatesResolved,
			"tasks_reset":         report.TasksReset,
		}))
	}

	return report, nil
}

// staleInFlight reports whether a task is stuck mid-flight with no
// living owner.
func staleInFlight(t *Task, cutoff time.Time, liveClaim func(string) bool) bool {
	if t.Status != StatusProcessing && t.Status != StatusClaimed {
		return false
	}
	if t.UpdatedAt.After(cutoff) {
		return false
	}
	if t.TargetAgent != "" && liveClaim != nil && liveClaim(t.TargetAgent) {
		return false
	}
	return true
}
