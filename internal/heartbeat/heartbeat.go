// Package heartbeat provides per-agent liveness files for the stall monitor.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dreamos-ai/dreamos/internal/storage/fsstore"
)

// Status represents the liveness state of an agent.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Heartbeat is the data written to an agent's liveness file.
type Heartbeat struct {
	AgentID   string    `json:"agent_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Path returns the liveness file for an agent inside dir.
func Path(dir, agentID string) string {
	return filepath.Join(dir, agentID+".json")
}

// Writer periodically writes an agent's liveness file to disk.
type Writer struct {
	path     string
	agentID  string
	interval time.Duration
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a heartbeat writer for agentID that beats every 30s.
func NewWriter(dir, agentID string) *Writer {
	return &Writer{
		path:     Path(dir, agentID),
		agentID:  agentID,
		interval: 30 * time.Second,
	}
}

// Start begins writing liveness files in a background goroutine.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	// Write initial heartbeat immediately
	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the liveness file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	os.Remove(w.path)
}

func (w *Writer) write() {
	hb := Heartbeat{
		AgentID:   w.agentID,
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return
	}
	_ = fsstore.WriteJSONAtomic(w.path, hb)
}

// Check reads an agent's liveness file and returns its status.
// maxAge determines how old a beat can be before it counts as stale.
func Check(dir, agentID string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(Path(dir, agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	age := time.Since(hb.Timestamp)
	if age > maxAge {
		return StatusStale, &hb, nil
	}

	return StatusAlive, &hb, nil
}

// LastBeat returns the timestamp of an agent's most recent beat, or the
// zero time when no liveness file exists.
func LastBeat(dir, agentID string) (time.Time, error) {
	_, hb, err := Check(dir, agentID, time.Hour)
	if err != nil || hb == nil {
		return time.Time{}, err
	}
	return hb.Timestamp, nil
}
