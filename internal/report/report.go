// Package report renders the operator-facing status of the whole
// coordination system. Collection is read-only: board snapshots,
// mailbox listings, and liveness checks, never a board write. The
// manual report path works even when boards and mailboxes are broken.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/heartbeat"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
)

// BoardStats counts tasks by status on one board.
type BoardStats struct {
	Total    int
	ByStatus map[board.Status]int
}

// AgentStatus is one agent's row in the status report.
type AgentStatus struct {
	ID           string
	Role         string
	Claimed      bool
	OpenTasks    int
	Liveness     heartbeat.Status
	LastActivity time.Time
}

// Status is a point-in-time view of boards and agents.
type Status struct {
	GeneratedAt time.Time
	Boards      map[board.Name]BoardStats
	Agents      []AgentStatus
}

// Collect gathers a status snapshot. heartbeatDir may be empty when no
// liveness files are written.
func Collect(ctx context.Context, boards *board.Manager, mail *mailbox.Store, registry *config.Registry, heartbeatDir string) (*Status, error) {
	s := &Status{
		GeneratedAt: time.Now().UTC(),
		Boards:      make(map[board.Name]BoardStats),
	}

	for _, name := range board.Names() {
		tasks, err := boards.Snapshot(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		stats := BoardStats{Total: len(tasks), ByStatus: make(map[board.Status]int)}
		for _, t := range tasks {
			stats.ByStatus[t.Status]++
		}
		s.Boards[name] = stats
	}

	for _, agent := range registry.Agents {
		row := AgentStatus{ID: agent.ID, Role: agent.Role, Claimed: mail.Claimed(agent.ID)}

		open, err := boards.ListTasks(ctx, board.Filter{TargetAgent: agent.ID})
		if err != nil {
			return nil, err
		}
		for _, t := range open {
			if !t.Status.IsTerminal() {
				row.OpenTasks++
			}
		}

		if last, err := boards.LastActivityByActor(ctx, agent.ID); err == nil {
			row.LastActivity = last
		}
		if mailLast, err := mail.LastActivity(agent.ID); err == nil && mailLast.After(row.LastActivity) {
			row.LastActivity = mailLast
		}

		row.Liveness = heartbeat.StatusDead
		if heartbeatDir != "" {
			status, _, err := heartbeat.Check(heartbeatDir, agent.ID, 2*time.Minute)
			if err == nil {
				row.Liveness = status
			}
		}

		s.Agents = append(s.Agents, row)
	}
	sort.Slice(s.Agents, func(i, j int) bool { return s.Agents[i].ID < s.Agents[j].ID })

	return s, nil
}

// Render writes the report as aligned text.
func (s *Status) Render(w io.Writer) error {
	fmt.Fprintf(w, "DreamOS status at %s\n\n", s.GeneratedAt.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BOARD\tTASKS\tBREAKDOWN")
	for _, name := range board.Names() {
		stats := s.Boards[name]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, stats.Total, formatBreakdown(stats.ByStatus))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tROLE\tMAILBOX\tOPEN\tLIVENESS\tLAST ACTIVITY")
	for _, a := range s.Agents {
		mailboxState := "free"
		if a.Claimed {
			mailboxState = "claimed"
		}
		last := "never"
		if !a.LastActivity.IsZero() {
			last = a.LastActivity.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", a.ID, a.Role, mailboxState, a.OpenTasks, a.Liveness, last)
	}
	return tw.Flush()
}

func formatBreakdown(byStatus map[board.Status]int) string {
	if len(byStatus) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(byStatus))
	for status := range byStatus {
		keys = append(keys, string(status))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, byStatus[board.Status(k)]))
	}
	return strings.Join(parts, " ")
}

// ManualReportTemplate is the degraded-mode report an agent fills in by
// hand when automated tooling is down. It asks only for prose.
func ManualReportTemplate(agentID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Manual status report: %s\n\n", agentID)
	fmt.Fprintf(&b, "Generated %s because automated reporting was unavailable.\n\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("## What I was working on\n\n(task ids and a short description)\n\n")
	b.WriteString("## What failed\n\n(error messages, which tool broke: boards, mailbox, both)\n\n")
	b.WriteString("## What I need\n\n(unblock actions a human or supervisor should take)\n")
	return b.String()
}

// WriteManualReport drops a manual report file using nothing but plain
// file IO. It must keep working when every other subsystem is down.
func WriteManualReport(dir, agentID, body string) (string, error) {
	if body == "" {
		body = ManualReportTemplate(agentID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("manual report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("MANUAL-REPORT-%s.md", agentID))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write manual report: %w", err)
	}
	return path, nil
}
