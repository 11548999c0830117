package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dreamos-ai/dreamos/internal/envelope"
	"github.com/dreamos-ai/dreamos/internal/events"
)

// Delivery is one consumable inbox message. The underlying file stays
// in the inbox until Ack moves it to the processed archive, so a
// consumer that crashes mid-work sees the message again on its next
// scan (at-least-once).
type Delivery struct {
	Envelope *envelope.Envelope

	store   *Store
	agentID string
	path    string
}

// Ack archives the message, marking it consumed. Consumption moves the
// file; the envelope itself is never edited.
func (d *Delivery) Ack() error {
	dest := filepath.Join(d.store.processedDir(d.agentID), filepath.Base(d.path))
	if err := os.Rename(d.path, dest); err != nil {
		return fmt.Errorf("ack message %s: %w", d.Envelope.MessageID, err)
	}

	if d.store.bus != nil {
		ev := events.New(events.EventMessageConsumed, events.SourceMailbox, map[string]any{
			"message_id": d.Envelope.MessageID,
		})
		ev.AgentID = d.agentID
		d.store.bus.Publish(ev)
	}
	return nil
}

// Consume returns the agent's un-acked inbox messages in delivery
// order (FIFO per mailbox). It never blocks: an empty inbox yields an
// empty slice and callers poll on an interval. Files that fail to
// decode are skipped and left in place for manual inspection.
func (s *Store) Consume(agentID string) ([]*Delivery, error) {
	dir := s.inboxDir(agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan inbox %s: %w", agentID, err)
	}

	type candidate struct {
		name  string
		mtime time.Time
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: entry.Name(), mtime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime.Equal(files[j].mtime) {
			return files[i].name < files[j].name
		}
		return files[i].mtime.Before(files[j].mtime)
	})

	var deliveries []*Delivery
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		env, err := envelope.Decode(data)
		if err != nil {
			continue // malformed envelope, leave for inspection
		}
		deliveries = append(deliveries, &Delivery{
			Envelope: env,
			store:    s,
			agentID:  agentID,
			path:     path,
		})
	}
	return deliveries, nil
}

// PurgeOlderThan deletes processed messages past the retention window
// for every agent. Un-acked inbox entries are never touched. Returns
// the number of files removed.
func (s *Store) PurgeOlderThan(retention time.Duration) (int, error) {
	agents, err := s.Agents()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, agentID := range agents {
		dir := s.processedDir(agentID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("scan processed %s: %w", agentID, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
