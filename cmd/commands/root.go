package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "dreamos",
		Usage: "File-based multi-agent task and mailbox coordination",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewTasksCommand(),
			NewMailboxCommand(),
			NewDispatchCommand(),
			NewMonitorCommand(),
			NewStatusCommand(),
			NewRecoverCommand(),
			NewServeCommand(),
		},
	}
}
