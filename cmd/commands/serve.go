package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/dispatch"
	"github.com/dreamos-ai/dreamos/internal/events"
	"github.com/dreamos-ai/dreamos/internal/gateway"
	"github.com/dreamos-ai/dreamos/internal/heartbeat"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
	"github.com/dreamos-ai/dreamos/internal/monitor"
	"github.com/dreamos-ai/dreamos/internal/scheduler"
	"github.com/dreamos-ai/dreamos/internal/storage"
)

// NewServeCommand returns the serve subcommand: dispatcher loop,
// scheduled monitor scans and retention sweeps, and the read-only
// gateway, in one process.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the coordination services",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Gateway host"},
			&cli.IntFlag{Name: "port", Usage: "Gateway port"},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cfg := e.cfg

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	// Event bus, shared by every service and the gateway stream.
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Durable audit trail behind the in-memory ring buffer.
	eventLog := storage.NewEventLogger(filepath.Join(config.DreamPath(), "events"), bus)
	defer eventLog.Close()

	boards := board.NewManager(cfg.Boards.Dir,
		board.WithLockTimeout(cfg.Boards.LockTimeout.Duration()),
		board.WithBus(bus),
	)
	mail := mailbox.NewStore(cfg.Mailbox.Dir, mailbox.WithBus(bus))

	// Startup recovery: repair duplicates and stranded tasks before
	// accepting new work.
	repair, err := boards.Reconcile(ctx, board.ReconcileOptions{
		StaleAfter: cfg.Boards.StaleAfter.Duration(),
		LiveClaim:  mail.Claimed,
	})
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	slog.Info("startup reconcile done",
		"duplicates", repair.DuplicatesResolved, "reset", repair.TasksReset)

	dispatcher := dispatch.New(boards, mail, e.registry, dispatch.WithBus(bus))
	if recovered, err := dispatcher.RecoverStale(ctx, cfg.Dispatch.RecoverAfter.Duration()); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	} else if recovered > 0 {
		slog.Info("recovered stuck dispatches", "count", recovered)
	}

	supervisor := cfg.Monitor.Supervisor
	if s := e.registry.Supervisor(); s != "" {
		supervisor = s
	}
	mon := monitor.New(boards, mail, e.registry,
		cfg.Monitor.IdleThreshold.Duration(), supervisor,
		monitor.WithBus(bus),
		monitor.WithHeartbeats(config.HeartbeatsPath()),
	)

	// Scheduled maintenance.
	sched := scheduler.New()
	if err := sched.Add("monitor-scan", cfg.Monitor.Schedule, func(ctx context.Context) error {
		_, err := mon.Scan(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Add("mailbox-purge", "0 4 * * *", func(context.Context) error {
		_, err := mail.PurgeOlderThan(cfg.Mailbox.Retention.Duration())
		return err
	}); err != nil {
		return err
	}
	if err := sched.Add("board-archive", "30 4 * * *", func(ctx context.Context) error {
		_, err := boards.Archive(ctx, cfg.Boards.ArchiveAfter.Duration())
		return err
	}); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	// The serve process writes its own liveness file so operators can
	// tell a dead coordinator from an idle one.
	beat := heartbeat.NewWriter(config.HeartbeatsPath(), "dreamos-serve")
	beat.Start()
	defer beat.Stop()

	// Dispatcher loop.
	go func() {
		if err := dispatcher.Run(ctx, cfg.Dispatch.Interval.Duration()); err != nil && ctx.Err() == nil {
			slog.Error("dispatcher stopped", "error", err)
		}
	}()

	// Gateway server.
	server := gateway.NewServer(bus, boards, mail, e.registry,
		config.HeartbeatsPath(), cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
