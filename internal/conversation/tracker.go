package conversation

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Tracker owns the per-user conversation map for a single thread. It
// decides which usernames get a conversation entry and carries old
// single-user state forward into the multi-user layout.
type Tracker struct {
	clock func() time.Time
}

// NewTracker creates a tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{clock: time.Now}
}

// NewTrackerWithClock creates a tracker with an injected clock for tests.
func NewTrackerWithClock(clock func() time.Time) *Tracker {
	return &Tracker{clock: clock}
}

// GetOrCreate resolves the conversation entry for username, creating one
// when policy allows. Returns nil when the user is not entitled to an
// entry; the guardrail layer treats that as "not authorized".
//
// A /diagnose command always yields a fresh entry with loopCount 0, even
// when an exhausted or finalized entry already exists. That reset is the
// only supported re-entry mechanism.
func (t *Tracker) GetOrCreate(state *State, username string, isThreadOwner, usedDiagnose bool) *UserConversation {
	if state.Users == nil {
		state.Users = make(map[string]*UserConversation)
	}
	now := t.clock()

	if usedDiagnose {
		uc := &UserConversation{
			Username:         username,
			FirstInteraction: now,
			LastInteraction:  now,
			CasePacket:       make(map[string]string),
		}
		state.Users[username] = uc
		log.Debug().Str("user", username).Msg("conversation reset via diagnose command")
		return uc
	}

	if uc, ok := state.Users[username]; ok {
		uc.LastInteraction = now
		return uc
	}

	if !isThreadOwner {
		return nil
	}

	uc := &UserConversation{
		Username:         username,
		FirstInteraction: now,
		LastInteraction:  now,
		CasePacket:       make(map[string]string),
	}
	state.Users[username] = uc
	log.Debug().Str("user", username).Msg("conversation created for thread owner")
	return uc
}

// MigrateLegacy upgrades state written by the single-user format: a
// non-zero legacy counter with an empty user map becomes one entry for
// the thread owner carrying the old loop count, asked fields, and
// finalized flag. Running it on already-migrated state is a no-op.
func (t *Tracker) MigrateLegacy(state *State, threadOwner string) bool {
	if len(state.Users) > 0 {
		return false
	}
	if state.LegacyLoopCount == 0 && len(state.LegacyAskedFields) == 0 && !state.LegacyFinalized {
		return false
	}

	now := t.clock()
	uc := &UserConversation{
		Username:         threadOwner,
		LoopCount:        state.LegacyLoopCount,
		AskedFields:      append([]string(nil), state.LegacyAskedFields...),
		IsFinalized:      state.LegacyFinalized,
		FirstInteraction: now,
		LastInteraction:  now,
		CasePacket:       make(map[string]string),
	}
	if state.LegacyFinalized {
		uc.Finalize(now)
	}
	if state.Users == nil {
		state.Users = make(map[string]*UserConversation)
	}
	state.Users[threadOwner] = uc

	state.LegacyLoopCount = 0
	state.LegacyAskedFields = nil
	state.LegacyFinalized = false

	log.Info().Str("owner", threadOwner).Int("loop_count", uc.LoopCount).
		Msg("migrated legacy single-user state")
	return true
}
