package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/envelope"
)

// NewMailboxCommand returns the mailbox subcommand.
func NewMailboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "mailbox",
		Usage: "Send and read agent messages",
		Commands: []*cli.Command{
			{
				Name:  "send",
				Usage: "Deliver a message to an agent's inbox",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Usage: "Sender agent id", Required: true},
					&cli.StringFlag{Name: "to", Usage: "Recipient agent id", Required: true},
					&cli.StringFlag{Name: "subject", Usage: "Message subject", Required: true},
					&cli.StringFlag{Name: "body", Usage: "Message body", Required: true},
					&cli.StringFlag{Name: "type", Usage: "Body type", Value: string(envelope.BodyText)},
					&cli.StringFlag{Name: "priority", Usage: "Message priority", Value: string(envelope.PriorityNormal)},
					&cli.BoolFlag{Name: "ack", Usage: "Require an acknowledgement"},
				},
				Action: runMailboxSend,
			},
			{
				Name:      "inbox",
				Usage:     "List an agent's pending messages in delivery order",
				ArgsUsage: "<agent_id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "archive", Usage: "Move listed messages to processed"},
				},
				Action: runMailboxInbox,
			},
			{
				Name:      "claim",
				Usage:     "Claim exclusive ownership of a mailbox",
				ArgsUsage: "<agent_id>",
				Action:    runMailboxClaim,
			},
			{
				Name:      "release",
				Usage:     "Release a mailbox claim",
				ArgsUsage: "<agent_id>",
				Action:    runMailboxRelease,
			},
			{
				Name:  "purge",
				Usage: "Delete processed messages past retention",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "Retention window", Value: 30 * 24 * time.Hour},
				},
				Action: runMailboxPurge,
			},
		},
	}
}

func runMailboxSend(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	env := envelope.New(
		cmd.String("from"),
		cmd.String("to"),
		cmd.String("subject"),
		cmd.String("body"),
		envelope.BodyType(cmd.String("type")),
	)
	env.Priority = envelope.Priority(cmd.String("priority"))
	env.RequiresAck = cmd.Bool("ack")

	ack, err := e.mail.Deliver(env)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	fmt.Println(ack.MessageID)
	return nil
}

func runMailboxInbox(ctx context.Context, cmd *cli.Command) error {
	agentID := cmd.Args().First()
	if agentID == "" {
		return fmt.Errorf("usage: dreamos mailbox inbox <agent_id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	deliveries, err := e.mail.Consume(agentID)
	if err != nil {
		return fmt.Errorf("consume inbox: %w", err)
	}

	if len(deliveries) == 0 {
		fmt.Println("Inbox is empty.")
		return nil
	}

	for i, d := range deliveries {
		env := d.Envelope
		fmt.Printf("%d. [%s] %s  from=%s  priority=%s  id=%s\n",
			i+1,
			env.TimestampCreated.Format("2006-01-02 15:04:05"),
			env.Subject,
			env.FromAgentID,
			env.Priority,
			env.MessageID,
		)
		fmt.Printf("   %s\n", env.Body)

		if cmd.Bool("archive") {
			if err := d.Ack(); err != nil {
				return fmt.Errorf("archive %s: %w", env.MessageID, err)
			}
		}
	}
	return nil
}

func runMailboxClaim(ctx context.Context, cmd *cli.Command) error {
	agentID := cmd.Args().First()
	if agentID == "" {
		return fmt.Errorf("usage: dreamos mailbox claim <agent_id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	record, err := e.mail.Claim(agentID)
	if err != nil {
		return fmt.Errorf("claim mailbox: %w", err)
	}

	fmt.Printf("Mailbox %s claimed (pid %d).\n", record.AgentID, record.PID)
	return nil
}

func runMailboxRelease(ctx context.Context, cmd *cli.Command) error {
	agentID := cmd.Args().First()
	if agentID == "" {
		return fmt.Errorf("usage: dreamos mailbox release <agent_id>")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	if err := e.mail.Release(agentID); err != nil {
		return fmt.Errorf("release mailbox: %w", err)
	}

	fmt.Printf("Mailbox %s released.\n", agentID)
	return nil
}

func runMailboxPurge(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	removed, err := e.mail.PurgeOlderThan(cmd.Duration("older-than"))
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}

	fmt.Printf("Purged %d processed message(s).\n", removed)
	return nil
}
