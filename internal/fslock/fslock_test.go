package fslock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dreamos-ai/dreamos/internal/storage/fsstore"
)

func readLockInfo(path string, info *Info) error {
	return fsstore.ReadJSON(path, info)
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backlog.json.lock")

	lock, err := Acquire(context.Background(), path, "pbm", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing while held: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release")
	}
}

func TestAcquireContendedTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	held, err := Acquire(context.Background(), path, "holder", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	_, err = Acquire(context.Background(), path, "waiter", 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	first, err := Acquire(context.Background(), path, "a", time.Second)
	if err != nil {
		t.Fatalf("Acquire first: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		second, err := Acquire(context.Background(), path, "b", 2*time.Second)
		if err == nil {
			second.Release()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	first.Release()

	if err := <-done; err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestAcquireMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	var mu sync.Mutex
	var inCritical, maxInCritical int

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := Acquire(context.Background(), path, "worker", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
			lock.Release()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("critical section occupancy: got %d, want 1", maxInCritical)
	}
}

func writeLockFile(t *testing.T, path string, info Info) {
	t.Helper()
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	writeLockFile(t, path, Info{
		Owner:      "crashed",
		PID:        99999,
		AcquiredAt: time.Now().UTC().Add(-2 * staleTTL),
	})

	lock, err := Acquire(context.Background(), path, "waiter", time.Second)
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer lock.Release()

	var info Info
	if err := readLockInfo(path, &info); err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if info.Owner != "waiter" {
		t.Errorf("owner after takeover: got %q, want waiter", info.Owner)
	}
}

func TestTakeOverSparesLiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	// A waiter observed this stale record and judged it dead...
	stale := Info{
		Owner:      "crashed",
		PID:        99999,
		AcquiredAt: time.Now().UTC().Add(-2 * staleTTL),
	}

	// ...but before it acted, another waiter broke the stale lock and
	// acquired a fresh one.
	live := Info{
		Owner:      "fast-waiter",
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	writeLockFile(t, path, live)

	takeOver(path, stale)

	var info Info
	if err := readLockInfo(path, &info); err != nil {
		t.Fatalf("live lock gone after delayed takeover: %v", err)
	}
	if info.Owner != "fast-waiter" {
		t.Errorf("lock owner: got %q, want fast-waiter", info.Owner)
	}
}

func TestTakeOverRemovesObservedStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	stale := Info{
		Owner:      "crashed",
		PID:        99999,
		AcquiredAt: time.Now().UTC().Add(-2 * staleTTL),
	}
	writeLockFile(t, path, stale)

	// The observed record round-trips through disk the same way a real
	// waiter reads it.
	var observed Info
	if err := readLockInfo(path, &observed); err != nil {
		t.Fatal(err)
	}

	takeOver(path, observed)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale lock still present after takeover")
	}
}

func TestAcquireCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.lock")

	held, err := Acquire(context.Background(), path, "holder", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err = Acquire(ctx, path, "waiter", 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
