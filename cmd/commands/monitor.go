package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/monitor"
)

// NewMonitorCommand returns the monitor subcommand.
func NewMonitorCommand() *cli.Command {
	return &cli.Command{
		Name:   "monitor",
		Usage:  "Run one stall-detection scan",
		Action: runMonitor,
	}
}

func runMonitor(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	supervisor := e.cfg.Monitor.Supervisor
	if s := e.registry.Supervisor(); s != "" {
		supervisor = s
	}

	m := monitor.New(
		e.boards,
		e.mail,
		e.registry,
		e.cfg.Monitor.IdleThreshold.Duration(),
		supervisor,
		monitor.WithHeartbeats(config.HeartbeatsPath()),
	)

	report, err := m.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Printf("Checked %d agent(s).\n", report.Checked)
	if len(report.Stalled) == 0 {
		fmt.Println("No stalled agents.")
		return nil
	}
	for _, agent := range report.Stalled {
		fmt.Printf("Stalled: %s\n", agent)
	}
	fmt.Printf("Created %d unblock task(s), sent %d escalation(s).\n",
		report.TasksCreated, report.Escalations)
	return nil
}
