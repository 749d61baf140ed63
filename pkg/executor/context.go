package executor

import (
	"fmt"
	"strings"

	"github.com/stackboard/agentd/pkg/contextstore"
	"github.com/stackboard/agentd/pkg/core"
	"github.com/stackboard/agentd/pkg/gateway"
)

// Context is the resolved execution context for one run. Exactly one
// implementation exists per execution mode, so message construction is
// exhaustive over the mode switch.
type Context interface {
	// Mode names the execution mode for logs and state snapshots.
	Mode() string

	messages() []gateway.Message
}

// continuationInstruction is appended after the conversation history so the
// model acts instead of narrating.
const continuationInstruction = "Act on the most recent human message above. " +
	"Use your tools to make the requested changes directly rather than only describing what you would do."

// StandardContext drives a fresh run from the card's current state.
type StandardContext struct {
	Card           core.Card
	Project        core.Project
	Instructions   string
	ParentSummary  string
	ChildSummaries []string
}

func (c StandardContext) Mode() string { return "standard" }

// messages renders the task brief as a single user message.
func (c StandardContext) messages() []gateway.Message {
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on a card in the %q workspace, project %q, lane %q.\n\n",
		c.Project.WorkspaceName, c.Project.Name, c.Card.LaneName)
	fmt.Fprintf(&b, "Card: %s\n", c.Card.Title)
	fmt.Fprintf(&b, "Type: %s | Priority: %s | Status: %s\n", c.Card.Type, c.Card.Priority, c.Card.Status)

	if c.Card.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", c.Card.Description)
	}
	if c.Instructions != "" {
		fmt.Fprintf(&b, "\nOperator instructions:\n%s\n", c.Instructions)
	}
	if c.ParentSummary != "" {
		fmt.Fprintf(&b, "\nParent card: %s\n", c.ParentSummary)
	}
	if len(c.ChildSummaries) > 0 {
		b.WriteString("\nChild cards:\n")
		for _, child := range c.ChildSummaries {
			fmt.Fprintf(&b, "- %s\n", child)
		}
	}
	b.WriteString("\nComplete this task using the tools available to you.")

	return []gateway.Message{{Role: gateway.RoleUser, Content: b.String()}}
}

// ConversationContext resumes a run from prior conversation turns.
type ConversationContext struct {
	History []contextstore.ConversationMessage
}

func (c ConversationContext) Mode() string { return "conversation" }

// messages replays the history and appends the continuation instruction.
func (c ConversationContext) messages() []gateway.Message {
	msgs := make([]gateway.Message, 0, len(c.History)+1)
	for _, turn := range c.History {
		role := gateway.RoleUser
		if turn.Role == "assistant" {
			role = gateway.RoleAssistant
		}
		msgs = append(msgs, gateway.Message{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, gateway.Message{Role: gateway.RoleUser, Content: continuationInstruction})
	return msgs
}
