// Package compose renders the invocation outcome into the outbound
// comment and re-embeds the updated conversation state behind it.
package compose

import (
	"fmt"
	"strings"

	"github.com/livetriage/internal/conversation"
	"github.com/livetriage/internal/orchestrator"
	"github.com/livetriage/internal/statestore"
)

// Composer turns decisions into markdown comments carrying the state
// marker.
type Composer struct {
	store *statestore.Store
}

// New creates a composer.
func New(store *statestore.Store) *Composer {
	return &Composer{store: store}
}

// Questions renders a question round addressed to one user.
func (c *Composer) Questions(username string, questions []orchestrator.Question, loopNumber, loopBound int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s thanks! A few questions to help narrow this down (round %d of %d):\n\n",
		username, loopNumber, loopBound)
	for _, q := range questions {
		fmt.Fprintf(&b, "- %s\n", q.Text)
	}
	b.WriteString("\nReply here and I'll pick it up. Use `/stop` any time to opt out.")
	return b.String()
}

// FinalBrief renders the finalize outcome: the drafted response plus a
// closing note.
func (c *Composer) FinalBrief(username, category, draft string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s here's where this landed", username)
	if category != "" {
		fmt.Fprintf(&b, " (triaged as **%s**)", category)
	}
	b.WriteString(":\n\n")
	b.WriteString(strings.TrimSpace(draft))
	b.WriteString("\n\nIf this doesn't match what you're seeing, say so and I'll take another pass.")
	return b.String()
}

// Escalation renders the hand-off to a human maintainer.
func (c *Composer) Escalation(username, category string, findings []conversation.SharedFinding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s I've asked as much as I usefully can, so I'm flagging this for a maintainer.\n\n", username)
	if category != "" {
		fmt.Fprintf(&b, "Working classification: **%s**\n\n", category)
	}
	if len(findings) > 0 {
		b.WriteString("What we know so far:\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
	}
	return b.String()
}

// StopAck renders the opt-out acknowledgment.
func (c *Composer) StopAck(username string) string {
	return fmt.Sprintf("@%s understood, I'll stop here. Comment `/diagnose` if you'd like to start over.", username)
}

// WithState appends the serialized state marker to the visible text.
func (c *Composer) WithState(visible string, state *conversation.State) (string, error) {
	return c.store.Embed(visible, state)
}
