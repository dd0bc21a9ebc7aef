// Package guardrail decides, per incoming event, whether the bot engages
// at all: who is allowed to interact, which command was issued, and
// whether the conversation for that user is still open.
package guardrail

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/livetriage/internal/commands"
	"github.com/livetriage/internal/conversation"
)

// Decision is the closed set of guardrail outcomes. Every switch over it
// must be exhaustive; there are no free-form action strings.
type Decision int

const (
	// Proceed runs the full triage pipeline for this user.
	Proceed Decision = iota

	// AcknowledgeStop finalizes the user's conversation and posts a
	// short opt-out acknowledgment. No pipeline stages run.
	AcknowledgeStop

	// SilentDrop produces no outbound comment and no state mutation.
	// Unauthorized or blocked senders never learn the bot exists.
	SilentDrop

	// Regenerate re-runs the final artifact once for a finalized user
	// who pushed back on the bot's conclusion. Loop count is untouched.
	Regenerate

	// ForceEscalate hands the thread to a human because the user's loop
	// budget is spent, regardless of pipeline output.
	ForceEscalate
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case AcknowledgeStop:
		return "acknowledge-stop"
	case SilentDrop:
		return "silently-dropped"
	case Regenerate:
		return "regenerate"
	case ForceEscalate:
		return "force-escalate"
	}
	return "unknown"
}

// OffTopicJudge scores how confidently a comment is unrelated to the
// thread. Implementations are judged assessments (usually LLM-backed);
// a failed judgement must be reported as an error, not a guess.
type OffTopicJudge interface {
	Confidence(ctx context.Context, threadTitle, text string) (float64, error)
}

// Config holds the guardrail thresholds.
type Config struct {
	// LoopBound is the number of question rounds a user gets before
	// escalation (default 3).
	LoopBound int

	// OffTopicStrikeLimit is the strike count at which a user's
	// comments stop being processed (default 2).
	OffTopicStrikeLimit int

	// OffTopicConfidence is the judgement confidence above which a
	// strike is recorded (default 0.75).
	OffTopicConfidence float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{LoopBound: 3, OffTopicStrikeLimit: 2, OffTopicConfidence: 0.75}
}

// Input is everything the engine looks at for one invocation.
type Input struct {
	State         *conversation.State
	Username      string
	IsThreadOwner bool
	// Text is only the newly arrived text for this event, never
	// concatenated history.
	Text        string
	IsComment   bool
	ThreadTitle string
}

// Outcome carries the decision plus the resolved user conversation
// (nil when the decision is SilentDrop for an unauthorized sender).
type Outcome struct {
	Decision Decision
	User     *conversation.UserConversation
	Commands commands.Detection
}

// Engine evaluates the guardrail state machine.
type Engine struct {
	cfg       Config
	tracker   *conversation.Tracker
	disagrees func(text string) bool
	offTopic  OffTopicJudge
	clock     func() time.Time
}

// New creates an engine. offTopic may be nil, which disables off-topic
// strikes. disagrees may be nil to use the default phrase heuristic.
func New(cfg Config, tracker *conversation.Tracker, offTopic OffTopicJudge, disagrees func(string) bool) *Engine {
	if cfg.LoopBound <= 0 {
		cfg.LoopBound = 3
	}
	if cfg.OffTopicStrikeLimit <= 0 {
		cfg.OffTopicStrikeLimit = 2
	}
	if cfg.OffTopicConfidence <= 0 {
		cfg.OffTopicConfidence = 0.75
	}
	if disagrees == nil {
		disagrees = DisagreementHeuristic
	}
	return &Engine{
		cfg:       cfg,
		tracker:   tracker,
		disagrees: disagrees,
		offTopic:  offTopic,
		clock:     time.Now,
	}
}

// WithClock overrides the engine clock for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Evaluate runs the guardrail checks in fixed order; the first match
// wins. The ordering is part of the contract: a /stop always lands even
// from an exhausted user, and unauthorized senders are dropped before
// any content is examined.
func (e *Engine) Evaluate(ctx context.Context, in Input) Outcome {
	det := commands.Detect(in.Text)

	// 1. Stop command: finalize and acknowledge.
	if det.HasStop {
		uc := e.tracker.GetOrCreate(in.State, in.Username, in.IsThreadOwner, false)
		if uc == nil {
			return Outcome{Decision: SilentDrop, Commands: det}
		}
		uc.Finalize(e.clock())
		log.Info().Str("user", in.Username).Msg("stop command received, conversation finalized")
		return Outcome{Decision: AcknowledgeStop, User: uc, Commands: det}
	}

	// Off-topic-blocked users are handled like unauthorized ones, but a
	// /diagnose still re-opens a fresh conversation below.
	if existing := in.State.User(in.Username); existing != nil &&
		existing.IsOffTopicBlocked && in.IsComment && !det.HasDiagnose {
		return Outcome{Decision: SilentDrop, User: existing, Commands: det}
	}

	// 2. Authorization: only the thread owner gets an entry implicitly;
	// anyone else needs /diagnose.
	uc := e.tracker.GetOrCreate(in.State, in.Username, in.IsThreadOwner, det.HasDiagnose)
	if uc == nil {
		log.Debug().Str("user", in.Username).Msg("unauthorized sender, dropping silently")
		return Outcome{Decision: SilentDrop, Commands: det}
	}

	// 3/4. Finalized conversation: re-open once on disagreement only.
	if uc.IsFinalized {
		if e.disagrees(in.Text) {
			log.Info().Str("user", in.Username).Msg("disagreement after finalize, regenerating once")
			return Outcome{Decision: Regenerate, User: uc, Commands: det}
		}
		return Outcome{Decision: SilentDrop, User: uc, Commands: det}
	}

	// 5. Loop budget spent: escalate regardless of content.
	if uc.LoopCount >= e.cfg.LoopBound {
		uc.IsExhausted = true
		log.Info().Str("user", in.Username).Int("loop_count", uc.LoopCount).
			Msg("loop budget exhausted, forcing escalation")
		return Outcome{Decision: ForceEscalate, User: uc, Commands: det}
	}

	// Off-topic strikes layer on top for comments. The judgement is
	// advisory: failures score zero and never block processing.
	if in.IsComment && e.offTopic != nil {
		confidence, err := e.offTopic.Confidence(ctx, in.ThreadTitle, in.Text)
		if err != nil {
			log.Warn().Err(err).Msg("off-topic judgement failed, skipping strike check")
		} else if confidence > e.cfg.OffTopicConfidence {
			uc.OffTopicStrikes++
			log.Info().Str("user", in.Username).Int("strikes", uc.OffTopicStrikes).
				Float64("confidence", confidence).Msg("off-topic strike recorded")
			if uc.OffTopicStrikes >= e.cfg.OffTopicStrikeLimit {
				uc.IsOffTopicBlocked = true
			}
		}
	}

	// 6. Nothing tripped; run the pipeline.
	return Outcome{Decision: Proceed, User: uc, Commands: det}
}

// DisagreementHeuristic is the default predicate for detecting that a
// user rejects the bot's stated conclusion. The phrase list is policy,
// not contract; callers can swap in their own predicate.
func DisagreementHeuristic(text string) bool {
	return containsAnyFold(text,
		"disagree",
		"that's not right",
		"that is not right",
		"not correct",
		"incorrect",
		"that's wrong",
		"that is wrong",
		"still broken",
		"still happening",
		"doesn't fix",
		"does not fix",
		"didn't work",
		"did not work",
	)
}

func containsAnyFold(text string, phrases ...string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
