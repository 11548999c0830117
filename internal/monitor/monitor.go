// Package monitor watches agent activity and raises escalations when
// an agent goes silent. It reads boards, mailboxes, and liveness files;
// all of its writes go through the board manager and the mailbox store.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/envelope"
	"github.com/dreamos-ai/dreamos/internal/events"
	"github.com/dreamos-ai/dreamos/internal/heartbeat"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
)

// Actor is the history actor recorded for monitor mutations.
const Actor = "monitor"

// TaskTypeUnblock is the task type of auto-generated recovery tasks.
const TaskTypeUnblock = "unblock"

// Monitor periodically checks every registered agent for stalls.
type Monitor struct {
	boards        *board.Manager
	mail          *mailbox.Store
	registry      *config.Registry
	heartbeats    string
	idleThreshold time.Duration
	supervisor    string
	bus           *events.Bus
	now           func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBus attaches an event bus for stall events.
func WithBus(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithHeartbeats adds a liveness-file directory as an activity source.
func WithHeartbeats(dir string) Option {
	return func(m *Monitor) { m.heartbeats = dir }
}

// New creates a monitor. Agents idle longer than idleThreshold get an
// UNBLOCK task and an escalation message to the supervisor agent.
func New(boards *board.Manager, mail *mailbox.Store, registry *config.Registry, idleThreshold time.Duration, supervisor string, opts ...Option) *Monitor {
	m := &Monitor{
		boards:        boards,
		mail:          mail,
		registry:      registry,
		idleThreshold: idleThreshold,
		supervisor:    supervisor,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScanReport summarizes one monitor pass.
type ScanReport struct {
	Checked      int
	Stalled      []string
	TasksCreated int
	Escalations  int
}

// Scan checks every registered agent except the supervisor. An agent is
// stalled when its last observed activity is older than the idle
// threshold and its most recent task did not end in a terminal state.
// Scanning twice against an unchanged idle agent raises exactly one
// open UNBLOCK task.
func (m *Monitor) Scan(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{}

	for _, agentID := range m.registry.IDs() {
		if agentID == m.supervisor {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		last, err := m.lastActivity(ctx, agentID)
		if err != nil {
			return report, fmt.Errorf("activity for %s: %w", agentID, err)
		}
		if !last.IsZero() && m.now().Sub(last) <= m.idleThreshold {
			continue
		}

		settled, err := m.latestTaskTerminal(ctx, agentID)
		if err != nil {
			return report, err
		}
		if settled {
			// The agent's work is done; silence is expected.
			continue
		}

		report.Stalled = append(report.Stalled, agentID)
		m.publishStall(agentID, last)

		if err := m.escalate(ctx, agentID, last, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// lastActivity is the newest timestamp across the agent's board
// history, mailbox, and liveness file. Zero means never seen.
func (m *Monitor) lastActivity(ctx context.Context, agentID string) (time.Time, error) {
	last, err := m.boards.LastActivityByActor(ctx, agentID)
	if err != nil {
		return time.Time{}, err
	}

	if mailLast, err := m.mail.LastActivity(agentID); err == nil && mailLast.After(last) {
		last = mailLast
	} else if err != nil {
		return time.Time{}, err
	}

	if m.heartbeats != "" {
		beat, err := heartbeat.LastBeat(m.heartbeats, agentID)
		if err == nil && beat.After(last) {
			last = beat
		}
	}
	return last, nil
}

// latestTaskTerminal reports whether the agent's most recently touched
// task sits in a terminal state.
func (m *Monitor) latestTaskTerminal(ctx context.Context, agentID string) (bool, error) {
	tasks, err := m.boards.ListTasks(ctx, board.Filter{TargetAgent: agentID})
	if err != nil {
		return false, err
	}

	var latest *board.Task
	for _, t := range tasks {
		if latest == nil || t.LastChange().After(latest.LastChange()) {
			latest = t
		}
	}
	return latest != nil && latest.Status.IsTerminal(), nil
}

// escalate creates the UNBLOCK task (unless one is already open) and
// messages the supervisor.
func (m *Monitor) escalate(ctx context.Context, agentID string, last time.Time, report *ScanReport) error {
	open, err := m.openUnblockTask(ctx, agentID)
	if err != nil {
		return err
	}

	taskID := open
	if open == "" {
		taskID, err = m.boards.AddTask(ctx, &board.Task{
			Title:       "UNBLOCK-" + agentID,
			Description: Directive(agentID, last),
			TaskType:    TaskTypeUnblock,
			TargetAgent: agentID,
			Priority:    board.PriorityCritical,
			CreatedBy:   Actor,
		})
		if err != nil {
			return fmt.Errorf("create unblock task for %s: %w", agentID, err)
		}
		slog.Warn("agent stalled, unblock task created", "agent", agentID, "task", taskID)
		report.TasksCreated++

		env := m.escalationEnvelope(agentID, taskID, last)
		if _, err := m.mail.Deliver(env); err != nil {
			// The UNBLOCK task already exists; the next scan will not
			// duplicate it, so a lost message is tolerable.
			slog.Error("deliver escalation", "agent", agentID, "error", err)
		} else {
			report.Escalations++
			m.publishEscalation(agentID, taskID)
		}
		return nil
	}

	slog.Debug("unblock task already open", "agent", agentID, "task", open)
	return nil
}

// openUnblockTask returns the id of a non-terminal UNBLOCK task for the
// agent, or "".
func (m *Monitor) openUnblockTask(ctx context.Context, agentID string) (string, error) {
	tasks, err := m.boards.ListTasks(ctx, board.Filter{
		TaskType:    TaskTypeUnblock,
		TargetAgent: agentID,
	})
	if err != nil {
		return "", err
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return t.ID, nil
		}
	}
	return "", nil
}

func (m *Monitor) escalationEnvelope(agentID, taskID string, last time.Time) *envelope.Envelope {
	env := envelope.New(Actor, m.supervisor,
		fmt.Sprintf("Escalation: %s stalled", agentID),
		EscalationBody(agentID, taskID, last),
		envelope.BodyMarkdown)
	env.Priority = envelope.PriorityUrgent
	env.Tags = []string{"escalation", "stall"}
	env.Metadata = map[string]string{"task_id": taskID, "stalled_agent": agentID}
	return env
}

func (m *Monitor) publishStall(agentID string, last time.Time) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{}
	if !last.IsZero() {
		payload["last_activity"] = last.UTC().Format(time.RFC3339)
	}
	ev := events.New(events.EventAgentStalled, events.SourceMonitor, payload)
	ev.AgentID = agentID
	m.bus.Publish(ev)
}

func (m *Monitor) publishEscalation(agentID, taskID string) {
	if m.bus == nil {
		return
	}
	ev := events.New(events.EventEscalation, events.SourceMonitor, map[string]any{"supervisor": m.supervisor})
	ev.AgentID = agentID
	ev.TaskID = taskID
	m.bus.Publish(ev)
}
