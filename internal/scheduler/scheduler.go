// Package scheduler runs the periodic maintenance jobs of the serve
// loop: monitor scans, retention purges, and archive sweeps, each on
// its own cron expression.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one named cron-triggered function.
type Job struct {
	name     string
	schedule *Schedule
	run      func(context.Context) error
	lastRun  time.Time
}

// Scheduler triggers registered jobs when their cron expressions match.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*Job
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{done: make(chan struct{})}
}

// Add registers a job under a cron expression.
func (s *Scheduler) Add(name, spec string, run func(context.Context) error) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{name: name, schedule: sched, run: run})
	return nil
}

// Start begins the cron loop. Jobs run in the scheduler goroutine, one
// at a time; a slow job delays later ones rather than piling up.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	slog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	minute := now.Truncate(time.Minute)
	for _, j := range s.jobs {
		if j.schedule.Due(now) && !j.lastRun.Equal(minute) {
			j.lastRun = minute
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if err := j.run(ctx); err != nil {
			slog.Error("scheduled job failed", "job", j.name, "error", err)
		} else {
			slog.Debug("scheduled job ran", "job", j.name)
		}
	}
}
