// Package events provides an in-memory event bus for the coordination
// services. The boards and mailboxes on disk are the system of record;
// events exist so in-process observers (the status gateway, log output)
// can follow activity without polling files.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var ErrBusClosed = errors.New("event bus is closed")

// EventType represents the type of event.
type EventType string

const (
	// Board lifecycle
	EventTaskCreated   EventType = "task.created"
	EventTaskStatus    EventType = "task.status"
	EventTaskClaimed   EventType = "task.claimed"
	EventTaskMoved     EventType = "task.moved"
	EventTaskArchived  EventType = "task.archived"
	EventBoardRepaired EventType = "board.repaired"

	// Dispatch
	EventTaskDispatched EventType = "task.dispatched"
	EventDispatchFailed EventType = "dispatch.failed"

	// Mailbox
	EventMessageDelivered EventType = "message.delivered"
	EventMessageConsumed  EventType = "message.consumed"
	EventMailboxClaimed   EventType = "mailbox.claimed"

	// Monitoring
	EventAgentStalled EventType = "agent.stalled"
	EventEscalation   EventType = "escalation.raised"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceBoard      EventSource = "board"
	SourceMailbox    EventSource = "mailbox"
	SourceDispatcher EventSource = "dispatcher"
	SourceMonitor    EventSource = "monitor"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	AgentID   string         `json:"agent_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

var eventIDCounter uint64

// New creates an event with the current timestamp.
func New(eventType EventType, source EventSource, payload map[string]any) Event {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

type subscription struct {
	eventTypes []EventType
	handler    Subscriber
}

// Bus is an in-memory event bus using Go channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	eventChan   chan Event
	ring        *RingBuffer
	closed      bool
	done        chan struct{}
}

// NewBus creates a new event bus with the given channel buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		subscribers: make(map[int]*subscription),
		eventChan:   make(chan Event, bufferSize),
		ring:        NewRingBuffer(bufferSize),
		done:        make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	for {
		select {
		case event := <-b.eventChan:
			b.ring.Add(event)
			b.notifySubscribers(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) notifySubscribers(event Event) {
	b.mu.RLock()
	handlers := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if matches(sub, event) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	// Handlers run on the dispatch goroutine so every subscriber sees
	// events in publish order; the audit log depends on that. Handlers
	// must not block: a slow one delays fan-out, never Publish.
	for _, h := range handlers {
		h(event)
	}
}

func matches(sub *subscription, event Event) bool {
	if len(sub.eventTypes) == 0 {
		return true
	}
	for _, t := range sub.eventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Publish sends an event to the bus. Never blocks; events are dropped
// if the buffer is full or the bus is closed.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	select {
	case b.eventChan <- event:
	default:
	}
}

// PublishAsync sends an event, blocking until accepted or ctx is done.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for specific event types (or all, when
// none are given). Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = &subscription{eventTypes: eventTypes, handler: handler}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Recent returns up to n most recent events, oldest first. Late
// subscribers (dashboard clients) use this to catch up.
func (b *Bus) Recent(n int) []Event {
	return b.ring.Get(n)
}

// Close shuts the bus down. Pending events are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
