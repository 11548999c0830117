package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/report"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show boards, agents, and liveness",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "manual",
				Usage: "Write a manual report template for the given agent instead",
			},
		},
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	// The manual path must stay usable when boards or mailboxes are
	// broken, so it runs before anything touches them.
	if agentID := cmd.String("manual"); agentID != "" {
		path, err := report.WriteManualReport(config.DreamPath(), agentID, "")
		if err != nil {
			return err
		}
		fmt.Printf("Manual report template written to %s — fill it in by hand.\n", path)
		return nil
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	status, err := report.Collect(ctx, e.boards, e.mail, e.registry, config.HeartbeatsPath())
	if err != nil {
		return fmt.Errorf("collect status: %w", err)
	}

	return status.Render(os.Stdout)
}
