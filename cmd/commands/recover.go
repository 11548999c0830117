package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/dispatch"
)

// NewRecoverCommand returns the recover subcommand: the startup sweep
// that repairs boards after a crash.
func NewRecoverCommand() *cli.Command {
	return &cli.Command{
		Name:   "recover",
		Usage:  "Reconcile boards and reset stranded tasks",
		Action: runRecover,
	}
}

func runRecover(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	report, err := e.boards.Reconcile(ctx, board.ReconcileOptions{
		StaleAfter: e.cfg.Boards.StaleAfter.Duration(),
		LiveClaim:  e.mail.Claimed,
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	d := dispatch.New(e.boards, e.mail, e.registry)
	recovered, err := d.RecoverStale(ctx, e.cfg.Dispatch.RecoverAfter.Duration())
	if err != nil {
		return fmt.Errorf("recover stale: %w", err)
	}

	fmt.Printf("Resolved %d duplicate(s), reset %d stale task(s), recovered %d stuck dispatch(es).\n",
		report.DuplicatesResolved, report.TasksReset, recovered)
	return nil
}
