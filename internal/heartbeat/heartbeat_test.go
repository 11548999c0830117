package heartbeat

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestWriteReadCycle(t *testing.T) {
	dir := t.TempDir()

	w := NewWriter(dir, "Agent-2")
	w.Start()
	defer w.Stop()

	// Give writer time to write initial heartbeat
	time.Sleep(100 * time.Millisecond)

	status, hb, err := Check(dir, "Agent-2", 2*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusAlive {
		t.Errorf("expected alive, got %s", status)
	}
	if hb == nil {
		t.Fatal("expected heartbeat, got nil")
	}
	if hb.AgentID != "Agent-2" {
		t.Errorf("agent id: got %s", hb.AgentID)
	}
	if hb.PID != os.Getpid() {
		t.Errorf("PID: got %d, want %d", hb.PID, os.Getpid())
	}

	last, err := LastBeat(dir, "Agent-2")
	if err != nil {
		t.Fatalf("LastBeat: %v", err)
	}
	if last.IsZero() {
		t.Error("expected non-zero last beat")
	}
}

func TestStaleDetection(t *testing.T) {
	dir := t.TempDir()

	old := Heartbeat{
		AgentID:   "Agent-3",
		PID:       os.Getpid(),
		StartedAt: time.Now().Add(-2 * time.Hour),
		Timestamp: time.Now().Add(-1 * time.Hour),
		Uptime:    "1h0m0s",
	}
	data, _ := json.Marshal(old)
	if err := os.WriteFile(Path(dir, "Agent-3"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	status, hb, err := Check(dir, "Agent-3", 30*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusStale {
		t.Errorf("expected stale, got %s", status)
	}
	if hb == nil {
		t.Fatal("expected heartbeat, got nil")
	}
}

func TestDeadWhenMissing(t *testing.T) {
	dir := t.TempDir()

	status, hb, err := Check(dir, "Agent-9", time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusDead {
		t.Errorf("expected dead, got %s", status)
	}
	if hb != nil {
		t.Errorf("expected nil heartbeat, got %+v", hb)
	}
}

func TestStopRemovesFile(t *testing.T) {
	dir := t.TempDir()

	w := NewWriter(dir, "Agent-4")
	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if _, err := os.Stat(Path(dir, "Agent-4")); !os.IsNotExist(err) {
		t.Errorf("liveness file still present after Stop: %v", err)
	}
}
