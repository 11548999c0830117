// Package storage holds persistence helpers shared by the coordination
// services.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dreamos-ai/dreamos/internal/events"
)

// EventLogger persists bus events to JSONL files, one file per day.
// The log is the durable audit trail behind the in-memory ring buffer:
// the bus forgets, the log does not.
type EventLogger struct {
	dir         string
	bus         *events.Bus
	unsubscribe func()
}

// NewEventLogger creates an EventLogger that subscribes to all bus
// events and appends them as JSONL under dir.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{
		dir: dir,
		bus: bus,
	}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	_ = el.writeEvent(e)
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := el.logPath(e.Timestamp)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (el *EventLogger) logPath(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return filepath.Join(el.dir, ts.UTC().Format("2006-01-02")+".jsonl")
}
