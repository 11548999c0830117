package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
)

func TestCollectAndRender(t *testing.T) {
	ctx := context.Background()
	boards := board.NewManager(t.TempDir())
	mail := mailbox.NewStore(t.TempDir())
	registry := &config.Registry{Agents: []config.Agent{
		{ID: "Agent-1", Role: "orchestrator", Supervisor: true},
		{ID: "Agent-2", Role: "builder"},
	}}

	if _, err := boards.AddTask(ctx, &board.Task{TaskType: "code_task", TargetAgent: "Agent-2"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := mail.Claim("Agent-2"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	status, err := Collect(ctx, boards, mail, registry, "")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if status.Boards[board.Backlog].Total != 1 {
		t.Errorf("backlog total: got %d, want 1", status.Boards[board.Backlog].Total)
	}
	if status.Boards[board.Backlog].ByStatus[board.StatusPending] != 1 {
		t.Errorf("backlog pending: got %d", status.Boards[board.Backlog].ByStatus[board.StatusPending])
	}

	if len(status.Agents) != 2 {
		t.Fatalf("agents: got %d, want 2", len(status.Agents))
	}
	var builder *AgentStatus
	for i := range status.Agents {
		if status.Agents[i].ID == "Agent-2" {
			builder = &status.Agents[i]
		}
	}
	if builder == nil {
		t.Fatal("Agent-2 missing from report")
	}
	if !builder.Claimed {
		t.Error("Agent-2 mailbox should show claimed")
	}
	if builder.OpenTasks != 1 {
		t.Errorf("Agent-2 open tasks: got %d, want 1", builder.OpenTasks)
	}

	var buf bytes.Buffer
	if err := status.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"backlog", "Agent-2", "claimed", "PENDING=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}

func TestWriteManualReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")

	path, err := WriteManualReport(dir, "Agent-3", "")
	if err != nil {
		t.Fatalf("WriteManualReport: %v", err)
	}
	if filepath.Base(path) != "MANUAL-REPORT-Agent-3.md" {
		t.Errorf("path: got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Agent-3") || !strings.Contains(content, "What failed") {
		t.Errorf("template content: %s", content)
	}
}
