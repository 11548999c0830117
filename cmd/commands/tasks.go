package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/board"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage board tasks",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a task to the backlog",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Task title"},
					&cli.StringFlag{Name: "description", Usage: "Task description"},
					&cli.StringFlag{Name: "type", Usage: "Task type (routing key)", Required: true},
					&cli.StringFlag{Name: "priority", Usage: "LOW, MEDIUM, HIGH or CRITICAL"},
					&cli.StringFlag{Name: "agent", Usage: "Reserve the task for one agent"},
					&cli.StringSliceFlag{Name: "dep", Usage: "Task id this task depends on (repeatable)"},
					&cli.StringFlag{Name: "by", Usage: "Creator recorded in history", Value: "cli"},
				},
				Action: runTasksAdd,
			},
			{
				Name:  "list",
				Usage: "List tasks across boards",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "board", Usage: "Restrict to one board"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.StringFlag{Name: "type", Usage: "Filter by task type"},
					&cli.StringFlag{Name: "agent", Usage: "Filter by target agent"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and history",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "claim",
				Usage:     "Claim a dispatched task for an agent",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent", Usage: "Claiming agent id", Required: true},
				},
				Action: runTasksClaim,
			},
			{
				Name:      "update",
				Usage:     "Transition a task to a new status",
				ArgsUsage: "<task_id> <status>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent", Usage: "Actor recorded in history", Required: true},
					&cli.StringFlag{Name: "note", Usage: "History note"},
				},
				Action: runTasksUpdate,
			},
			{
				Name:      "complete",
				Usage:     "Mark a task COMPLETED",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent", Usage: "Actor recorded in history", Required: true},
					&cli.StringFlag{Name: "result", Usage: "Result summary"},
				},
				Action: runTasksComplete,
			},
			{
				Name:      "fail",
				Usage:     "Mark a task FAILED",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent", Usage: "Actor recorded in history", Required: true},
					&cli.StringFlag{Name: "reason", Usage: "Failure reason", Required: true},
				},
				Action: runTasksFail,
			},
			{
				Name:      "move",
				Usage:     "Move a task between boards",
				ArgsUsage: "<task_id> <from> <to>",
				Action:    runTasksMove,
			},
			{
				Name:      "reopen",
				Usage:     "Reopen a terminal task as PENDING",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent", Usage: "Actor recorded in history", Value: "cli"},
					&cli.StringFlag{Name: "note", Usage: "Why the task is reopened"},
				},
				Action: runTasksReopen,
			},
			{
				Name:  "archive",
				Usage: "Archive terminal tasks past retention",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "Retention window", Value: 7 * 24 * time.Hour},
				},
				Action: runTasksArchive,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksAdd(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	id, err := e.boards.AddTask(ctx, &board.Task{
		Title:        cmd.String("title"),
		Description:  cmd.String("description"),
		TaskType:     cmd.String("type"),
		Priority:     board.Priority(cmd.String("priority")),
		TargetAgent:  cmd.String("agent"),
		Dependencies: cmd.StringSlice("dep"),
		CreatedBy:    cmd.String("by"),
	})
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}

	fmt.Println(id)
	return nil
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	list, err := e.boards.ListTasks(ctx, board.Filter{
		Board:       board.Name(cmd.String("board")),
		Status:      board.Status(cmd.String("status")),
		TaskType:    cmd.String("type"),
		TargetAgent: cmd.String("agent"),
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTYPE\tAGENT\tTITLE")
	for _, t := range list {
		agent := t.TargetAgent
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Priority,
			t.TaskType,
			agent,
			t.Title,
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: dreamos tasks show <task_id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	t, err := e.boards.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Priority:    %s\n", t.Priority)
	fmt.Printf("Type:        %s\n", t.TaskType)
	if t.TargetAgent != "" {
		fmt.Printf("Agent:       %s\n", t.TargetAgent)
	}
	if len(t.Dependencies) > 0 {
		fmt.Printf("Depends on:  %v\n", t.Dependencies)
	}
	fmt.Printf("Created:     %s by %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.CreatedBy)
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))

	if t.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", t.Description)
	}
	if t.Result != "" {
		fmt.Printf("\nResult: %s\n", t.Result)
	}
	if t.Error != "" {
		fmt.Printf("\nError: %s\n", t.Error)
	}

	if len(t.History) > 0 {
		fmt.Println("\nHistory:")
		for _, c := range t.History {
			actor := c.Actor
			if actor == "" {
				actor = "-"
			}
			fmt.Printf("  [%s] %s: %q -> %q by %s\n",
				c.Timestamp.Format("2006-01-02 15:04:05"), c.Field, c.Old, c.New, actor)
		}
	}
	return nil
}

func runTasksClaim(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: dreamos tasks claim <task_id> --agent <id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	t, err := e.boards.ClaimTask(ctx, taskID, cmd.String("agent"))
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}

	fmt.Printf("Task %s claimed by %s.\n", t.ID, t.TargetAgent)
	return nil
}

func runTasksUpdate(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	status := cmd.Args().Get(1)
	if taskID == "" || status == "" {
		return fmt.Errorf("usage: dreamos tasks update <task_id> <status> --agent <id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	t, err := e.boards.UpdateStatus(ctx, taskID, board.Status(status), cmd.String("agent"), cmd.String("note"))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	fmt.Printf("Task %s is now %s.\n", t.ID, t.Status)
	return nil
}

func runTasksComplete(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: dreamos tasks complete <task_id> --agent <id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	t, err := e.boards.Complete(ctx, taskID, cmd.String("agent"), cmd.String("result"))
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	fmt.Printf("Task %s completed.\n", t.ID)
	return nil
}

func runTasksFail(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: dreamos tasks fail <task_id> --agent <id> --reason <text>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	t, err := e.boards.Fail(ctx, taskID, cmd.String("agent"), cmd.String("reason"))
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}

	fmt.Printf("Task %s failed: %s\n", t.ID, t.Error)
	return nil
}

func runTasksMove(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	from := cmd.Args().Get(1)
	to := cmd.Args().Get(2)
	if taskID == "" || from == "" || to == "" {
		return fmt.Errorf("usage: dreamos tasks move <task_id> <from> <to>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	if err := e.boards.MoveTask(ctx, taskID, board.Name(from), board.Name(to)); err != nil {
		return fmt.Errorf("move task: %w", err)
	}

	fmt.Printf("Task %s moved %s -> %s.\n", taskID, from, to)
	return nil
}

func runTasksReopen(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: dreamos tasks reopen <task_id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	t, err := e.boards.Reopen(ctx, taskID, cmd.String("agent"), cmd.String("note"))
	if err != nil {
		return fmt.Errorf("reopen task: %w", err)
	}

	fmt.Printf("Task %s reopened as %s.\n", t.ID, t.Status)
	return nil
}

func runTasksArchive(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	n, err := e.boards.Archive(ctx, cmd.Duration("older-than"))
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	fmt.Printf("Archived %d task(s).\n", n)
	return nil
}
