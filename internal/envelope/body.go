package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Body is the decoded message payload, a closed variant over the four
// supported body types.
type Body interface {
	bodyType() BodyType
}

// TextBody is a plain-text payload.
type TextBody string

func (TextBody) bodyType() BodyType { return BodyText }

// MarkdownBody is a markdown payload.
type MarkdownBody string

func (MarkdownBody) bodyType() BodyType { return BodyMarkdown }

// JSONBody is an arbitrary structured payload.
type JSONBody json.RawMessage

func (JSONBody) bodyType() BodyType { return BodyJSON }

// TaskBody is a task dispatch payload carried by
// application/dreamos-task messages. It references a task by ID; the
// board remains the owner of the record.
type TaskBody struct {
	TaskID      string            `json:"task_id"`
	TaskType    string            `json:"task_type"`
	Priority    string            `json:"priority"`
	Summary     string            `json:"summary,omitempty"`
	Directives  []string          `json:"directives,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func (TaskBody) bodyType() BodyType { return BodyTask }

// NewTaskBody serializes a TaskBody for use as an envelope body.
func NewTaskBody(b TaskBody) (string, error) {
	if b.TaskID == "" {
		return "", &SchemaError{Field: "body", Reason: "task payload missing task_id"}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal task body: %w", err)
	}
	return string(data), nil
}

// DecodeBody interprets the body string according to body_type. The
// switch is exhaustive over the closed BodyType set; callers handling a
// Body should switch over the concrete variants the same way.
func (e *Envelope) DecodeBody() (Body, error) {
	switch e.BodyType {
	case BodyText:
		return TextBody(e.Body), nil
	case BodyMarkdown:
		return MarkdownBody(e.Body), nil
	case BodyJSON:
		if !json.Valid([]byte(e.Body)) {
			return nil, &SchemaError{Field: "body", Reason: "not valid JSON"}
		}
		return JSONBody(json.RawMessage(e.Body)), nil
	case BodyTask:
		dec := json.NewDecoder(bytes.NewReader([]byte(e.Body)))
		dec.DisallowUnknownFields()
		var b TaskBody
		if err := dec.Decode(&b); err != nil {
			return nil, &SchemaError{Field: "body", Reason: "malformed task payload: " + err.Error()}
		}
		if b.TaskID == "" {
			return nil, &SchemaError{Field: "body", Reason: "task payload missing task_id"}
		}
		return b, nil
	default:
		return nil, &SchemaError{Field: "body_type", Reason: fmt.Sprintf("unknown body type %q", e.BodyType)}
	}
}
