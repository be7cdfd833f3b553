package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// EmailChannel pipes a message through a sendmail-compatible command.
type EmailChannel struct {
	to      []string
	from    string
	command string
}

// NewEmailChannel creates an email channel. An empty command defaults to
// sendmail.
func NewEmailChannel(to []string, from string, command string) *EmailChannel {
	if command == "" {
		command = "sendmail"
	}
	return &EmailChannel{to: to, from: from, command: command}
}

func (e *EmailChannel) Name() string {
	return "email"
}

func (e *EmailChannel) Send(ctx context.Context, ev Event) error {
	if len(e.to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "To: %s\n", strings.Join(e.to, ", "))
	if e.from != "" {
		fmt.Fprintf(&msg, "From: %s\n", e.from)
	}
	fmt.Fprintf(&msg, "Subject: [agentpipe] %s: %s\n\n", ev.Pipeline, ev.Kind)
	msg.WriteString(formatEvent(ev))
	msg.WriteString("\n")

	cmd := exec.CommandContext(ctx, e.command, e.to...)
	cmd.Stdin = strings.NewReader(msg.String())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s: %w", e.command, strings.TrimSpace(string(out)), err)
	}
	return nil
}
