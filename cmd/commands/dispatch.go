package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/dispatch"
)

// NewDispatchCommand returns the dispatch subcommand.
func NewDispatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "dispatch",
		Usage: "Run one dispatch pass over the backlog",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "skip-recovery", Usage: "Skip the stale PROCESSING sweep"},
		},
		Action: runDispatch,
	}
}

func runDispatch(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	d := dispatch.New(e.boards, e.mail, e.registry)

	if !cmd.Bool("skip-recovery") {
		recovered, err := d.RecoverStale(ctx, e.cfg.Dispatch.RecoverAfter.Duration())
		if err != nil {
			return fmt.Errorf("recover stale: %w", err)
		}
		if recovered > 0 {
			fmt.Printf("Recovered %d stale task(s).\n", recovered)
		}
	}

	report, err := d.DispatchPending(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	fmt.Printf("Dispatched %d, failed %d, rolled back %d.\n",
		report.Dispatched, report.Failed, report.RolledBack)
	return nil
}
