package ws

import (
	"encoding/json"
	"testing"

	"github.com/dreamos-ai/dreamos/internal/events"
)

func TestEventFrameRoundTrip(t *testing.T) {
	e := events.New(events.EventTaskClaimed, events.SourceBoard, map[string]any{"board": "working"})
	e.TaskID = "task_ab12cd34"
	e.AgentID = "Agent-2"

	frame, err := NewEventFrame(string(e.Type), e)
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameTypeEvent {
		t.Errorf("type: got %s", got.Type)
	}
	if got.Event != string(events.EventTaskClaimed) {
		t.Errorf("event: got %s", got.Event)
	}

	var inner events.Event
	if err := json.Unmarshal(got.Payload, &inner); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if inner.TaskID != "task_ab12cd34" || inner.AgentID != "Agent-2" {
		t.Errorf("payload: %+v", inner)
	}
}

func TestUnmarshalFrameRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalFrame([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
