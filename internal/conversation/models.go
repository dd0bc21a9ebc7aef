package conversation

import (
	"fmt"
	"sort"
	"time"
)

// State is the authoritative conversation record for one issue thread.
// It is reconstructed each invocation from the most recent bot-authored
// state marker in the thread; there is never more than one live copy.
type State struct {
	ThreadKey         string                       `json:"thread_key"`
	Category          string                       `json:"category,omitempty"`
	CompletenessScore int                          `json:"completeness_score"`
	SharedFindings    []SharedFinding              `json:"shared_findings,omitempty"`
	Users             map[string]*UserConversation `json:"users,omitempty"`
	LastUpdated       time.Time                    `json:"last_updated"`

	// Legacy single-user fields. Written by versions that tracked only the
	// thread owner; consumed by MigrateLegacy and cleared afterwards.
	LegacyLoopCount   int      `json:"loop_count,omitempty"`
	LegacyAskedFields []string `json:"asked_fields,omitempty"`
	LegacyFinalized   bool     `json:"finalized,omitempty"`
}

// UserConversation tracks one user's progress through the question loop
// within a thread. Entries are never deleted, only marked finalized or
// exhausted.
type UserConversation struct {
	Username          string            `json:"username"`
	LoopCount         int               `json:"loop_count"`
	IsExhausted       bool              `json:"is_exhausted,omitempty"`
	IsFinalized       bool              `json:"is_finalized,omitempty"`
	FinalizedAt       *time.Time        `json:"finalized_at,omitempty"`
	AskedFields       []string          `json:"asked_fields,omitempty"`
	OffTopicStrikes   int               `json:"off_topic_strikes,omitempty"`
	IsOffTopicBlocked bool              `json:"is_off_topic_blocked,omitempty"`
	FirstInteraction  time.Time         `json:"first_interaction"`
	LastInteraction   time.Time         `json:"last_interaction"`
	CasePacket        map[string]string `json:"case_packet,omitempty"`
}

// SharedFinding is a piece of evidence discovered while working with one
// user but visible to every user in the thread, so the same ground isn't
// covered twice.
type SharedFinding struct {
	DiscoveredBy string `json:"discovered_by"`
	Category     string `json:"category"`
	Content      string `json:"content"`
}

// NewState creates an empty conversation state for a thread.
func NewState(threadKey string) *State {
	return &State{
		ThreadKey: threadKey,
		Users:     make(map[string]*UserConversation),
	}
}

// ThreadKey builds the canonical thread identifier for an issue.
func ThreadKey(owner, repo string, issueNumber int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, issueNumber)
}

// User returns the conversation entry for a username, or nil.
func (s *State) User(username string) *UserConversation {
	if s.Users == nil {
		return nil
	}
	return s.Users[username]
}

// AddFinding appends a shared finding. Findings are append-only.
func (s *State) AddFinding(f SharedFinding) {
	s.SharedFindings = append(s.SharedFindings, f)
}

// HasAsked reports whether a field was already asked of this user.
func (u *UserConversation) HasAsked(field string) bool {
	for _, f := range u.AskedFields {
		if f == field {
			return true
		}
	}
	return false
}

// MarkAsked records a field as asked. The asked set only grows; the slice
// is kept sorted so serialized state is stable across invocations.
func (u *UserConversation) MarkAsked(field string) {
	if u.HasAsked(field) {
		return
	}
	u.AskedFields = append(u.AskedFields, field)
	sort.Strings(u.AskedFields)
}

// Finalize marks the conversation closed for this user.
func (u *UserConversation) Finalize(now time.Time) {
	u.IsFinalized = true
	t := now
	u.FinalizedAt = &t
}
