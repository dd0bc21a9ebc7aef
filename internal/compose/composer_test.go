package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetriage/internal/conversation"
	"github.com/livetriage/internal/orchestrator"
	"github.com/livetriage/internal/statestore"
)

func newComposer() *Composer {
	return New(statestore.New(0))
}

func TestQuestions(t *testing.T) {
	out := newComposer().Questions("alice", []orchestrator.Question{
		{Field: "logs", Text: "Can you attach the relevant logs?"},
		{Field: "version", Text: "Which version are you running?"},
	}, 2, 3)

	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "round 2 of 3")
	assert.Contains(t, out, "Can you attach the relevant logs?")
	assert.Contains(t, out, "Which version are you running?")
	assert.Contains(t, out, "/stop", "users must always see the opt-out")
}

func TestFinalBrief(t *testing.T) {
	out := newComposer().FinalBrief("alice", "bug", "This is a known startup race.")
	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "**bug**")
	assert.Contains(t, out, "This is a known startup race.")

	uncategorized := newComposer().FinalBrief("alice", "", "Answer text.")
	assert.NotContains(t, uncategorized, "triaged as")
}

func TestEscalation(t *testing.T) {
	out := newComposer().Escalation("alice", "bug", []conversation.SharedFinding{
		{DiscoveredBy: "alice", Category: "bug", Content: "crashes only on linux"},
	})
	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "maintainer")
	assert.Contains(t, out, "**bug**")
	assert.Contains(t, out, "crashes only on linux")
}

func TestStopAck(t *testing.T) {
	out := newComposer().StopAck("alice")
	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "/diagnose")
}

func TestWithStateRoundTrips(t *testing.T) {
	c := newComposer()
	state := conversation.NewState("acme/widgets#7")
	state.Category = "bug"

	body, err := c.WithState("visible text", state)
	require.NoError(t, err)
	assert.Contains(t, body, "visible text")

	got := statestore.New(0).Extract(body)
	require.NotNil(t, got)
	assert.Equal(t, "bug", got.Category)
}
