package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Directive is the recovery text agents must honor after a detected
// stall. It is written into the UNBLOCK task description so the agent
// sees it even when its mailbox is the broken part. The final section
// is the manual fallback: it asks only for a plain file drop, so it
// works when boards and mailboxes are both degraded.
func Directive(agentID string, lastActivity time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recovery directive for %s.\n\n", agentID)
	if lastActivity.IsZero() {
		b.WriteString("No activity has ever been observed for this agent.\n\n")
	} else {
		fmt.Fprintf(&b, "Last observed activity: %s.\n\n", lastActivity.UTC().Format(time.RFC3339))
	}
	b.WriteString("1. Claim this task to signal you are alive.\n")
	b.WriteString("2. Consume your inbox and ack every pending message.\n")
	b.WriteString("3. Resume or fail your in-flight tasks; do not leave them CLAIMED.\n")
	b.WriteString("4. If task tooling is broken, write a status file named\n")
	fmt.Fprintf(&b, "   MANUAL-REPORT-%s.md next to your mailbox directory describing\n", agentID)
	b.WriteString("   what you were doing and what failed. A human will pick it up.\n")
	return b.String()
}

// EscalationBody is the markdown message sent to the supervisor when an
// agent is judged stalled.
func EscalationBody(agentID, taskID string, lastActivity time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Agent stalled: %s\n\n", agentID)
	if lastActivity.IsZero() {
		b.WriteString("- Last activity: never observed\n")
	} else {
		fmt.Fprintf(&b, "- Last activity: %s\n", lastActivity.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Recovery task: `%s` (CRITICAL)\n\n", taskID)
	b.WriteString("The agent has been handed a recovery directive through the task ")
	b.WriteString("board. Intervene manually if the recovery task is still open on ")
	b.WriteString("the next escalation.\n")
	return b.String()
}
