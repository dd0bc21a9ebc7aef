package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestGetOrCreateThreadOwner(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")

	uc := tracker.GetOrCreate(state, "alice", true, false)
	require.NotNil(t, uc)
	assert.Equal(t, "alice", uc.Username)
	assert.Equal(t, 0, uc.LoopCount)
	assert.Same(t, uc, state.Users["alice"])
}

func TestGetOrCreateUnknownNonOwner(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")

	uc := tracker.GetOrCreate(state, "bob", false, false)
	assert.Nil(t, uc)
	assert.Empty(t, state.Users)
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	current := now
	tracker := NewTrackerWithClock(func() time.Time { return current })
	state := NewState("acme/widgets#1")

	created := tracker.GetOrCreate(state, "alice", true, false)
	require.NotNil(t, created)
	created.LoopCount = 2

	current = later
	// Non-owner flag is irrelevant once an entry exists.
	got := tracker.GetOrCreate(state, "alice", false, false)
	require.Same(t, created, got)
	assert.Equal(t, 2, got.LoopCount)
	assert.Equal(t, later, got.LastInteraction)
}

func TestDiagnoseResetsConversation(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")

	old := tracker.GetOrCreate(state, "bob", false, true)
	require.NotNil(t, old)
	old.LoopCount = 3
	old.IsExhausted = true
	old.MarkAsked("logs")

	fresh := tracker.GetOrCreate(state, "bob", false, true)
	require.NotNil(t, fresh)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 0, fresh.LoopCount)
	assert.False(t, fresh.IsExhausted)
	assert.Empty(t, fresh.AskedFields)
}

func TestMigrateLegacy(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")
	state.LegacyLoopCount = 2
	state.LegacyAskedFields = []string{"logs", "version"}

	migrated := tracker.MigrateLegacy(state, "alice")
	require.True(t, migrated)

	uc := state.User("alice")
	require.NotNil(t, uc)
	assert.Equal(t, 2, uc.LoopCount)
	assert.Equal(t, []string{"logs", "version"}, uc.AskedFields)
	assert.False(t, uc.IsFinalized)

	// Legacy fields cleared.
	assert.Zero(t, state.LegacyLoopCount)
	assert.Nil(t, state.LegacyAskedFields)
}

func TestMigrateLegacyIdempotent(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")
	state.LegacyLoopCount = 2

	require.True(t, tracker.MigrateLegacy(state, "alice"))
	before := state.User("alice")
	before.LoopCount = 5

	// Second run must be a no-op.
	assert.False(t, tracker.MigrateLegacy(state, "alice"))
	assert.Same(t, before, state.User("alice"))
	assert.Equal(t, 5, state.User("alice").LoopCount)
}

func TestMigrateLegacyFreshStateNoOp(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")

	assert.False(t, tracker.MigrateLegacy(state, "alice"))
	assert.Empty(t, state.Users)
}

func TestMigrateLegacyCarriesFinalized(t *testing.T) {
	tracker := NewTrackerWithClock(fixedClock())
	state := NewState("acme/widgets#1")
	state.LegacyFinalized = true

	require.True(t, tracker.MigrateLegacy(state, "alice"))
	uc := state.User("alice")
	require.NotNil(t, uc)
	assert.True(t, uc.IsFinalized)
	assert.NotNil(t, uc.FinalizedAt)
}

func TestMarkAskedOnlyGrows(t *testing.T) {
	uc := &UserConversation{Username: "alice"}
	uc.MarkAsked("version")
	uc.MarkAsked("logs")
	uc.MarkAsked("version")

	assert.Equal(t, []string{"logs", "version"}, uc.AskedFields)
	assert.True(t, uc.HasAsked("logs"))
	assert.False(t, uc.HasAsked("environment"))
}
