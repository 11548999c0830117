// Package fslock implements advisory file locks over a shared filesystem.
// A lock is an exclusively created marker file next to the resource it
// guards. There is no lock server: first writer wins, and a crashed
// holder's lock is taken over once it exceeds the stale TTL.
package fslock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/dreamos-ai/dreamos/internal/storage/fsstore"
)

// ErrTimeout indicates the lock could not be acquired within the bounded
// wait. Callers retry with backoff rather than blocking indefinitely.
var ErrTimeout = errors.New("lock acquisition timed out")

// DefaultTimeout bounds Acquire when the caller passes zero.
const DefaultTimeout = 5 * time.Second

// staleTTL is how old a lock file may be before a waiter assumes the
// holder crashed and takes the lock over.
const staleTTL = 2 * time.Minute

// retryBase is the floor of the randomized acquisition backoff.
const retryBase = 10 * time.Millisecond

// Info is the persisted content of a lock file, kept human-inspectable
// for manual reconciliation.
type Info struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held file lock. Release it exactly once.
type Lock struct {
	path string
	info Info
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire obtains the lock at path, retrying with randomized backoff
// until timeout elapses. Returns ErrTimeout (wrapped) when the bounded
// wait expires.
func Acquire(ctx context.Context, path, owner string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	info := Info{
		Owner:      owner,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	content, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock info: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := fsstore.CreateExclusive(path, content)
		if err == nil {
			return &Lock{path: path, info: info}, nil
		}
		if !errors.Is(err, fsstore.ErrExists) {
			return nil, err
		}

		breakStale(path)

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s held by another process: %w", path, ErrTimeout)
		}

		wait := retryBase + time.Duration(rand.Int63n(int64(retryBase)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Release removes the lock file. Safe to call if the file was already
// cleaned up by a stale-lock takeover.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// breakStale takes over a lock whose holder is presumed dead. Best
// effort; the next Acquire iteration races for the freed lock normally.
func breakStale(path string) {
	var observed Info
	if err := fsstore.ReadJSON(path, &observed); err != nil {
		return
	}
	if time.Since(observed.AcquiredAt) < staleTTL {
		return
	}
	takeOver(path, observed)
}

// takeOver deletes the lock at path, but only if it still carries the
// stale record the waiter observed. A bare remove would race: another
// waiter can break the stale lock and acquire a fresh one in between,
// and removing that fresh lock hands the resource to two holders. The
// file is first renamed aside under a unique name (exactly one waiter
// wins the rename), then deleted once its content confirms it is the
// observed stale record; a live lock caught by mistake is put back.
func takeOver(path string, observed Info) {
	aside := fmt.Sprintf("%s.takeover.%d.%d", path, os.Getpid(), rand.Int63())
	if err := os.Rename(path, aside); err != nil {
		return // another waiter already took it over
	}
	defer os.Remove(aside)

	var current Info
	err := fsstore.ReadJSON(aside, &current)
	if err == nil && sameHolder(current, observed) {
		return
	}

	// The lock changed hands between the staleness check and the
	// rename: a live holder was displaced. Restore it.
	if data, rerr := os.ReadFile(aside); rerr == nil {
		_ = fsstore.CreateExclusive(path, data)
	}
}

func sameHolder(a, b Info) bool {
	return a.Owner == b.Owner && a.PID == b.PID && a.AcquiredAt.Equal(b.AcquiredAt)
}
