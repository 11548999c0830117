// Package mailbox implements per-agent message directories over a
// shared filesystem: an inbox receiving envelopes, an outbox keeping
// the sender's audit copies, and a processed archive for consumed
// messages. Claiming a mailbox is leader election by exclusive file
// creation; delivery is temp-file-then-rename so readers never see a
// partial message.
package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dreamos-ai/dreamos/internal/envelope"
	"github.com/dreamos-ai/dreamos/internal/events"
	"github.com/dreamos-ai/dreamos/internal/storage/fsstore"
)

var (
	// ErrAlreadyClaimed indicates another process holds the mailbox
	// claim. Retryable once the holder releases or dies.
	ErrAlreadyClaimed = errors.New("mailbox already claimed")

	// ErrNotClaimed indicates a release was attempted without a claim.
	ErrNotClaimed = errors.New("mailbox not claimed")

	// ErrDeliveryFailed wraps any failure to persist an envelope. The
	// recipient's inbox is guaranteed untouched when it is returned.
	ErrDeliveryFailed = errors.New("message delivery failed")
)

// ClaimStatus is the state recorded in a claim file.
const ClaimStatusActive = "ACTIVE"

// ClaimRecord marks exclusive ownership of a mailbox. Its presence on
// disk means the mailbox is actively owned.
type ClaimRecord struct {
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	PID       int       `json:"pid"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Ack is the delivery receipt returned by Deliver.
type Ack struct {
	MessageID   string
	DeliveredAt time.Time
}

// Store manages all mailboxes under one root directory.
type Store struct {
	mu       sync.Mutex
	root     string
	bus      *events.Bus
	lastSeen time.Time // monotonic delivery stamp guard
}

// Option configures a Store.
type Option func(*Store)

// WithBus attaches an event bus for mailbox events.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// NewStore creates a mailbox store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{root: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) agentDir(agentID string) string {
	return filepath.Join(s.root, agentID)
}

func (s *Store) inboxDir(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "inbox")
}

func (s *Store) outboxDir(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "outbox")
}

func (s *Store) processedDir(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "processed")
}

func (s *Store) claimPath(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "claim.json")
}

// EnsureAgent creates the mailbox directory tree for an agent.
func (s *Store) EnsureAgent(agentID string) error {
	for _, dir := range []string{s.inboxDir(agentID), s.outboxDir(agentID), s.processedDir(agentID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create mailbox for %s: %w", agentID, err)
		}
	}
	return nil
}

// Claim takes exclusive ownership of an agent's mailbox. First writer
// wins: two racing claimants can never both succeed.
func (s *Store) Claim(agentID string) (*ClaimRecord, error) {
	if err := s.EnsureAgent(agentID); err != nil {
		return nil, err
	}

	record := &ClaimRecord{
		AgentID:   agentID,
		Status:    ClaimStatusActive,
		PID:       os.Getpid(),
		ClaimedAt: time.Now().UTC(),
	}
	data, err := marshalClaim(record)
	if err != nil {
		return nil, err
	}

	if err := fsstore.CreateExclusive(s.claimPath(agentID), data); err != nil {
		if errors.Is(err, fsstore.ErrExists) {
			return nil, fmt.Errorf("mailbox %s: %w", agentID, ErrAlreadyClaimed)
		}
		return nil, fmt.Errorf("claim mailbox %s: %w", agentID, err)
	}

	if s.bus != nil {
		ev := events.New(events.EventMailboxClaimed, events.SourceMailbox, nil)
		ev.AgentID = agentID
		s.bus.Publish(ev)
	}
	return record, nil
}

// Release removes the claim file.
func (s *Store) Release(agentID string) error {
	err := os.Remove(s.claimPath(agentID))
	if os.IsNotExist(err) {
		return fmt.Errorf("mailbox %s: %w", agentID, ErrNotClaimed)
	}
	if err != nil {
		return fmt.Errorf("release mailbox %s: %w", agentID, err)
	}
	return nil
}

// Claimed reports whether a live claim exists for the agent's mailbox.
func (s *Store) Claimed(agentID string) bool {
	_, err := os.Stat(s.claimPath(agentID))
	return err == nil
}

// ClaimHolder reads the current claim record, or nil without error
// when the mailbox is unclaimed.
func (s *Store) ClaimHolder(agentID string) (*ClaimRecord, error) {
	var record ClaimRecord
	if err := fsstore.ReadJSON(s.claimPath(agentID), &record); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read claim for %s: %w", agentID, err)
	}
	return &record, nil
}

// Deliver validates the envelope and writes it into the recipient's
// inbox atomically, plus an audit copy in the sender's outbox. On any
// failure the inbox is left without a partial file.
func (s *Store) Deliver(env *envelope.Envelope) (*Ack, error) {
	data, err := envelope.Encode(env)
	if err != nil {
		return nil, err // SchemaError: never persist an invalid envelope
	}

	if err := s.EnsureAgent(env.ToAgentID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	name := env.MessageID + ".json"
	path := filepath.Join(s.inboxDir(env.ToAgentID), name)
	if err := fsstore.WriteFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	// Stamp the file with a strictly increasing mtime so inbox order
	// equals delivery order even for same-instant deliveries.
	stamp := s.nextStamp()
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	// Outbox copy is audit trail, best effort after the delivery.
	if err := s.EnsureAgent(env.FromAgentID); err == nil {
		outPath := filepath.Join(s.outboxDir(env.FromAgentID), name)
		_ = fsstore.WriteFileAtomic(outPath, data)
	}

	if s.bus != nil {
		ev := events.New(events.EventMessageDelivered, events.SourceMailbox, map[string]any{
			"message_id": env.MessageID,
			"from":       env.FromAgentID,
			"subject":    env.Subject,
		})
		ev.AgentID = env.ToAgentID
		s.bus.Publish(ev)
	}

	return &Ack{MessageID: env.MessageID, DeliveredAt: stamp}, nil
}

func (s *Store) nextStamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !now.After(s.lastSeen) {
		now = s.lastSeen.Add(time.Microsecond)
	}
	s.lastSeen = now
	return now
}

// LastActivity returns the newest timestamp of the agent's own mailbox
// acts: messages it sent (outbox), messages it consumed (processed),
// and its claim file. Inbox arrivals are the sender's act, not the
// recipient's, so they never count. Zero time means no recorded
// activity.
func (s *Store) LastActivity(agentID string) (time.Time, error) {
	var last time.Time

	update := func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(last) {
				last = info.ModTime()
			}
		}
		return nil
	}

	for _, dir := range []string{s.outboxDir(agentID), s.processedDir(agentID)} {
		if err := update(dir); err != nil {
			return time.Time{}, err
		}
	}
	if info, err := os.Stat(s.claimPath(agentID)); err == nil && info.ModTime().After(last) {
		last = info.ModTime()
	}
	return last, nil
}

// Agents lists all agent ids that have a mailbox directory.
func (s *Store) Agents() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	var agents []string
	for _, entry := range entries {
		if entry.IsDir() {
			agents = append(agents, entry.Name())
		}
	}
	return agents, nil
}

func marshalClaim(record *ClaimRecord) ([]byte, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal claim: %w", err)
	}
	return append(data, '\n'), nil
}
