// Package envelope defines the versioned mailbox message format and its
// codec. The schema is closed: unknown top-level fields are rejected at
// decode time so independently developed agents cannot drift the wire
// format silently.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the current envelope schema version.
const Version = "1.0"

// Priority is the delivery priority of a message.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityUrgent   Priority = "URGENT"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityCritical:
		return true
	}
	return false
}

// BodyType identifies how the body string is interpreted.
type BodyType string

const (
	BodyText     BodyType = "text/plain"
	BodyMarkdown BodyType = "text/markdown"
	BodyJSON     BodyType = "application/json"
	BodyTask     BodyType = "application/dreamos-task"
)

// Valid reports whether b is a known body type.
func (b BodyType) Valid() bool {
	switch b {
	case BodyText, BodyMarkdown, BodyJSON, BodyTask:
		return true
	}
	return false
}

// SchemaError reports the first invalid field of a malformed envelope.
// An envelope that fails validation must never be persisted.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("envelope schema: field %q: %s", e.Field, e.Reason)
}

// Envelope is a single mailbox message. Once written to an inbox or
// outbox it is immutable; consumption moves the file, never edits it.
type Envelope struct {
	MessageID        string            `json:"message_id"`
	TimestampCreated time.Time         `json:"timestamp_created"`
	Version          string            `json:"version"`
	ToAgentID        string            `json:"to_agent_id"`
	FromAgentID      string            `json:"from_agent_id"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	BodyType         BodyType          `json:"body_type"`
	Priority         Priority          `json:"priority"`
	RelatedMessageID string            `json:"related_message_id,omitempty"`
	RequiresAck      bool              `json:"requires_ack"`
	AckMessageID     string            `json:"ack_message_id,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// New creates an envelope with a fresh message ID, the current schema
// version, and NORMAL priority.
func New(from, to, subject, body string, bodyType BodyType) *Envelope {
	return &Envelope{
		MessageID:        uuid.NewString(),
		TimestampCreated: time.Now().UTC(),
		Version:          Version,
		ToAgentID:        to,
		FromAgentID:      from,
		Subject:          subject,
		Body:             body,
		BodyType:         bodyType,
		Priority:         PriorityNormal,
	}
}

// Reply creates an envelope answering e, linking it via
// related_message_id and, when e requires an ack, ack_message_id.
func (e *Envelope) Reply(body string, bodyType BodyType) *Envelope {
	r := New(e.ToAgentID, e.FromAgentID, "Re: "+e.Subject, body, bodyType)
	r.RelatedMessageID = e.MessageID
	if e.RequiresAck {
		r.AckMessageID = e.MessageID
	}
	return r
}

// Validate checks required fields and enum membership, returning a
// *SchemaError naming the first invalid field.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return &SchemaError{Field: "message_id", Reason: "required"}
	}
	if _, err := uuid.Parse(e.MessageID); err != nil {
		return &SchemaError{Field: "message_id", Reason: "not a valid UUID"}
	}
	if e.TimestampCreated.IsZero() {
		return &SchemaError{Field: "timestamp_created", Reason: "required"}
	}
	if e.Version == "" {
		return &SchemaError{Field: "version", Reason: "required"}
	}
	if e.ToAgentID == "" {
		return &SchemaError{Field: "to_agent_id", Reason: "required"}
	}
	if e.FromAgentID == "" {
		return &SchemaError{Field: "from_agent_id", Reason: "required"}
	}
	if e.Subject == "" {
		return &SchemaError{Field: "subject", Reason: "required"}
	}
	if e.Body == "" {
		return &SchemaError{Field: "body", Reason: "required"}
	}
	if !e.BodyType.Valid() {
		return &SchemaError{Field: "body_type", Reason: fmt.Sprintf("unknown body type %q", e.BodyType)}
	}
	if !e.Priority.Valid() {
		return &SchemaError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", e.Priority)}
	}
	if _, err := e.DecodeBody(); err != nil {
		return err
	}
	return nil
}

// Encode validates and serializes the envelope. The output is indented
// JSON so mailbox files remain readable by external tooling.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses and validates an envelope, rejecting unknown top-level
// fields.
func Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var e Envelope
	if err := dec.Decode(&e); err != nil {
		if field, ok := unknownField(err); ok {
			return nil, &SchemaError{Field: field, Reason: "unknown field"}
		}
		return nil, &SchemaError{Field: "", Reason: err.Error()}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// unknownField extracts the field name from the decoder's
// unknown-field error.
func unknownField(err error) (string, bool) {
	const marker = `json: unknown field "`
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
