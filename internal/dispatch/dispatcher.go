// Package dispatch moves PENDING tasks from the backlog into agent
// inboxes. The dispatcher is the only writer that turns board records
// into mailbox envelopes; agents never poll the backlog directly.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/envelope"
	"github.com/dreamos-ai/dreamos/internal/events"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
)

// Actor is the history actor recorded for dispatcher mutations.
const Actor = "dispatcher"

// Dispatcher routes backlog tasks to agents through their mailboxes.
type Dispatcher struct {
	boards   *board.Manager
	mail     *mailbox.Store
	registry *config.Registry
	bus      *events.Bus
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBus attaches an event bus for dispatch events.
func WithBus(bus *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// New creates a dispatcher over the given board manager, mailbox store,
// and agent registry.
func New(boards *board.Manager, mail *mailbox.Store, registry *config.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{boards: boards, mail: mail, registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Report summarizes one dispatch pass.
type Report struct {
	Dispatched int
	Failed     int
	RolledBack int
}

// DispatchPending runs one dispatch pass: every PENDING task is either
// delivered to an agent inbox and marked DISPATCHED, marked FAILED when
// no agent can take it, or rolled back to PENDING when delivery fails.
// Each task settles in exactly one of those states; a crash mid-pass
// leaves at worst a PROCESSING task for RecoverStale to roll back.
func (d *Dispatcher) DispatchPending(ctx context.Context) (*Report, error) {
	pending, err := d.boards.ListTasks(ctx, board.Filter{Status: board.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	report := &Report{}
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d.dispatchOne(ctx, t, report)
	}
	return report, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, t *board.Task, report *Report) {
	target := t.TargetAgent
	if target != "" && d.registry.Get(target) == nil {
		// An explicit target must exist in the registry; delivering to an
		// unregistered mailbox strands the task with no reader.
		reason := fmt.Sprintf("target agent %q is not registered", target)
		if _, err := d.boards.Fail(ctx, t.ID, Actor, reason); err != nil {
			slog.Error("mark unroutable task failed", "task", t.ID, "error", err)
			return
		}
		slog.Warn("task targets unknown agent", "task", t.ID, "target", target)
		d.publishFailure(t.ID, target, reason)
		report.Failed++
		return
	}
	if target == "" {
		target = d.registry.RouteTaskType(t.TaskType)
	}
	if target == "" {
		reason := fmt.Sprintf("no registered agent handles task type %q", t.TaskType)
		if _, err := d.boards.Fail(ctx, t.ID, Actor, reason); err != nil {
			slog.Error("mark unroutable task failed", "task", t.ID, "error", err)
			return
		}
		slog.Warn("task unroutable", "task", t.ID, "task_type", t.TaskType)
		d.publishFailure(t.ID, target, reason)
		report.Failed++
		return
	}

	// Claim the task for this pass before touching the mailbox, so two
	// dispatcher processes never deliver the same task.
	if _, err := d.boards.UpdateStatus(ctx, t.ID, board.StatusProcessing, Actor, ""); err != nil {
		slog.Debug("task taken by another dispatcher", "task", t.ID, "error", err)
		return
	}

	env, err := d.buildEnvelope(t, target)
	if err != nil {
		if _, ferr := d.boards.Fail(ctx, t.ID, Actor, err.Error()); ferr != nil {
			slog.Error("mark malformed task failed", "task", t.ID, "error", ferr)
		}
		d.publishFailure(t.ID, target, err.Error())
		report.Failed++
		return
	}

	if _, err := d.mail.Deliver(env); err != nil {
		// Roll back so the task is retried next pass.
		note := fmt.Sprintf("delivery to %s failed: %v", target, err)
		if _, rerr := d.boards.UpdateStatus(ctx, t.ID, board.StatusPending, Actor, note); rerr != nil {
			slog.Error("rollback after delivery failure", "task", t.ID, "error", rerr)
		}
		slog.Warn("task delivery failed", "task", t.ID, "target", target, "error", err)
		d.publishFailure(t.ID, target, note)
		report.RolledBack++
		return
	}

	if _, err := d.boards.MarkDispatched(ctx, t.ID, target, Actor); err != nil {
		slog.Error("mark dispatched", "task", t.ID, "error", err)
		return
	}

	slog.Info("task dispatched", "task", t.ID, "target", target, "task_type", t.TaskType)
	report.Dispatched++
}

// buildEnvelope wraps a task reference into a dispatch message. The
// envelope carries the task ID, not the record; the board stays the
// source of truth.
func (d *Dispatcher) buildEnvelope(t *board.Task, target string) (*envelope.Envelope, error) {
	body, err := envelope.NewTaskBody(envelope.TaskBody{
		TaskID:   t.ID,
		TaskType: t.TaskType,
		Priority: string(t.Priority),
		Summary:  t.Title,
	})
	if err != nil {
		return nil, err
	}

	subject := t.Title
	if subject == "" {
		subject = "Task " + t.ID
	}
	env := envelope.New(Actor, target, subject, body, envelope.BodyTask)
	env.Priority = envelopePriority(t.Priority)
	env.RequiresAck = true
	env.Metadata = map[string]string{"task_id": t.ID}
	return env, nil
}

// envelopePriority maps board priorities onto message priorities.
func envelopePriority(p board.Priority) envelope.Priority {
	switch p {
	case board.PriorityLow:
		return envelope.PriorityLow
	case board.PriorityHigh:
		return envelope.PriorityHigh
	case board.PriorityCritical:
		return envelope.PriorityCritical
	default:
		return envelope.PriorityNormal
	}
}

func (d *Dispatcher) publishFailure(taskID, target, reason string) {
	if d.bus == nil {
		return
	}
	ev := events.New(events.EventDispatchFailed, events.SourceDispatcher, map[string]any{
		"target": target,
		"reason": reason,
	})
	ev.TaskID = taskID
	d.bus.Publish(ev)
}

// RecoverStale rolls PROCESSING tasks older than olderThan back to
// PENDING. A task stuck in PROCESSING means a dispatcher died between
// claiming it and delivering its envelope.
func (d *Dispatcher) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stuck, err := d.boards.ListTasks(ctx, board.Filter{Status: board.StatusProcessing})
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	recovered := 0
	for _, t := range stuck {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		note := fmt.Sprintf("recovered from stale PROCESSING (idle since %s)", t.UpdatedAt.UTC().Format(time.RFC3339))
		if _, err := d.boards.UpdateStatus(ctx, t.ID, board.StatusPending, Actor, note); err != nil {
			slog.Error("recover stale task", "task", t.ID, "error", err)
			continue
		}
		slog.Info("recovered stale task", "task", t.ID)
		recovered++
	}
	return recovered, nil
}

// Run dispatches in a loop until the context is canceled, pausing
// interval between passes.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dispatch pass", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
