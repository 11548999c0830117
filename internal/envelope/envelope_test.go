package envelope

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := New("Agent-1", "Agent-2", "build request", "please build", BodyText)
	e.Tags = []string{"build"}
	e.RequiresAck = true

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.MessageID != e.MessageID {
		t.Errorf("MessageID: got %q, want %q", got.MessageID, e.MessageID)
	}
	if got.ToAgentID != "Agent-2" || got.FromAgentID != "Agent-1" {
		t.Errorf("addressing: got %q -> %q", got.FromAgentID, got.ToAgentID)
	}
	if !got.RequiresAck {
		t.Error("RequiresAck lost in round trip")
	}
}

func TestValidateNamesFirstInvalidField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{"missing message id", func(e *Envelope) { e.MessageID = "" }, "message_id"},
		{"bad message id", func(e *Envelope) { e.MessageID = "not-a-uuid" }, "message_id"},
		{"missing version", func(e *Envelope) { e.Version = "" }, "version"},
		{"missing recipient", func(e *Envelope) { e.ToAgentID = "" }, "to_agent_id"},
		{"missing sender", func(e *Envelope) { e.FromAgentID = "" }, "from_agent_id"},
		{"missing subject", func(e *Envelope) { e.Subject = "" }, "subject"},
		{"missing body", func(e *Envelope) { e.Body = "" }, "body"},
		{"bad body type", func(e *Envelope) { e.BodyType = "text/csv" }, "body_type"},
		{"bad priority", func(e *Envelope) { e.Priority = "EXTREME" }, "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("a", "b", "s", "body", BodyText)
			tt.mutate(e)

			err := e.Validate()
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %v", err)
			}
			if se.Field != tt.field {
				t.Errorf("field: got %q, want %q", se.Field, tt.field)
			}
		})
	}
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	e := New("a", "b", "s", "body", BodyText)
	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tampered := strings.Replace(string(data), `"subject"`, `"surprise": 1, "subject"`, 1)

	_, err = Decode([]byte(tampered))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if se.Field != "surprise" {
		t.Errorf("field: got %q, want %q", se.Field, "surprise")
	}
}

func TestEncodeRejectsInvalidEnvelope(t *testing.T) {
	e := New("a", "b", "s", "body", BodyText)
	e.Priority = "WHATEVER"

	if _, err := Encode(e); err == nil {
		t.Fatal("expected error encoding invalid envelope")
	}
}

func TestDecodeBodyVariants(t *testing.T) {
	text := New("a", "b", "s", "hello", BodyText)
	if body, err := text.DecodeBody(); err != nil {
		t.Errorf("text body: %v", err)
	} else if string(body.(TextBody)) != "hello" {
		t.Errorf("text body: got %v", body)
	}

	md := New("a", "b", "s", "# hi", BodyMarkdown)
	if _, err := md.DecodeBody(); err != nil {
		t.Errorf("markdown body: %v", err)
	}

	js := New("a", "b", "s", `{"k": 1}`, BodyJSON)
	if _, err := js.DecodeBody(); err != nil {
		t.Errorf("json body: %v", err)
	}

	badJS := New("a", "b", "s", `{"k": `, BodyJSON)
	if _, err := badJS.DecodeBody(); err == nil {
		t.Error("expected error for invalid JSON body")
	}
}

func TestTaskBodyRoundTrip(t *testing.T) {
	body, err := NewTaskBody(TaskBody{
		TaskID:   "task_1234",
		TaskType: "build",
		Priority: "HIGH",
		Summary:  "build the thing",
	})
	if err != nil {
		t.Fatalf("NewTaskBody: %v", err)
	}

	e := New("dispatcher", "Agent-2", "task dispatch", body, BodyTask)
	e.Priority = PriorityHigh

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	decoded, err := got.DecodeBody()
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	tb, ok := decoded.(TaskBody)
	if !ok {
		t.Fatalf("expected TaskBody, got %T", decoded)
	}
	if tb.TaskID != "task_1234" || tb.TaskType != "build" {
		t.Errorf("task body: got %+v", tb)
	}
}

func TestTaskBodyRequiresTaskID(t *testing.T) {
	if _, err := NewTaskBody(TaskBody{TaskType: "build"}); err == nil {
		t.Error("expected error for task body without task_id")
	}

	e := New("a", "b", "s", `{"task_type": "build"}`, BodyTask)
	if err := e.Validate(); err == nil {
		t.Error("expected validation error for task body without task_id")
	}
}

func TestReplyLinksMessages(t *testing.T) {
	orig := New("Agent-1", "Agent-2", "ping", "are you there", BodyText)
	orig.RequiresAck = true

	r := orig.Reply("yes", BodyText)
	if r.FromAgentID != "Agent-2" || r.ToAgentID != "Agent-1" {
		t.Errorf("reply addressing: %q -> %q", r.FromAgentID, r.ToAgentID)
	}
	if r.RelatedMessageID != orig.MessageID {
		t.Errorf("related_message_id: got %q", r.RelatedMessageID)
	}
	if r.AckMessageID != orig.MessageID {
		t.Errorf("ack_message_id: got %q", r.AckMessageID)
	}
}
