package intent

import (
	"fmt"
	"strings"
	"time"

	"lumen/internal/device"
)

// Turn is one prior exchange in the conversation.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Conversation carries the recent dialogue plus content the assistant
// produced earlier that the user may refer back to.
type Conversation struct {
	History          []Turn   `json:"history,omitempty"`
	LastResponse     string   `json:"last_response,omitempty"`
	GeneratedContent string   `json:"generated_content,omitempty"`
	ContentMemory    []string `json:"content_memory,omitempty"`
}

// Pending operation types.
const (
	PendingCreate = "create"
	PendingEdit   = "edit"
	PendingDelete = "delete"
)

// PendingOperation is a prior turn's multi-step flow awaiting user
// confirmation. Its presence changes how ambiguous utterances parse.
type PendingOperation struct {
	Type      string    `json:"pending_op_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ResolvedReferences carry entities the caller already disambiguated.
type ResolvedReferences struct {
	Document string `json:"document,omitempty"`
	Event    string `json:"event,omitempty"`
}

// Context is the per-request conversational state handed in by the caller.
type Context struct {
	Devices           []device.Device    `json:"devices,omitempty"`
	Conversation      Conversation       `json:"conversation,omitempty"`
	PendingOperations []PendingOperation `json:"pending_operations,omitempty"`
	Resolved          ResolvedReferences `json:"resolved_references,omitempty"`
}

// ActivePending returns the pending operation that governs ambiguous
// utterances. When several are present the most recent by timestamp wins.
func (c *Context) ActivePending() *PendingOperation {
	if c == nil || len(c.PendingOperations) == 0 {
		return nil
	}
	best := &c.PendingOperations[0]
	for i := 1; i < len(c.PendingOperations); i++ {
		if c.PendingOperations[i].Timestamp.After(best.Timestamp) {
			best = &c.PendingOperations[i]
		}
	}
	if best.Type == "" {
		return nil
	}
	return best
}

const maxHistoryTurns = 4

// Summary renders the context as a compact block for model prompts.
func (c *Context) Summary() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder

	if len(c.Devices) > 0 {
		sb.WriteString("Devices:\n")
		for _, d := range c.Devices {
			state := "offline"
			if d.Online {
				state = "online"
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", d.Name, state)
		}
	}

	history := c.Conversation.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) > 0 {
		sb.WriteString("Recent turns:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "user: %s\nassistant: %s\n", truncate(turn.User, 200), truncate(turn.Assistant, 200))
		}
	}
	if c.Conversation.GeneratedContent != "" {
		fmt.Fprintf(&sb, "Previously generated content (summary): %s\n", truncate(c.Conversation.GeneratedContent, 300))
	}
	for i, item := range c.Conversation.ContentMemory {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "Content memory %d: %s\n", i+1, truncate(item, 200))
	}

	if pending := c.ActivePending(); pending != nil {
		fmt.Fprintf(&sb, "Pending operation: %s (awaiting confirm/cancel/edit)\n", pending.Type)
	}
	if c.Resolved.Event != "" {
		fmt.Fprintf(&sb, "Resolved event reference: %s\n", c.Resolved.Event)
	}
	if c.Resolved.Document != "" {
		fmt.Fprintf(&sb, "Resolved document reference: %s\n", c.Resolved.Document)
	}
	return strings.TrimSpace(sb.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
