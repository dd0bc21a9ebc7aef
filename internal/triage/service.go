// Package triage wires one invocation end to end: recover state from
// the thread, authorize the sender, run the pipeline, decide, compose,
// and persist. Each inbound event gets exactly one run-to-completion
// pass and at most one outbound comment.
package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/livetriage/internal/compose"
	"github.com/livetriage/internal/conversation"
	"github.com/livetriage/internal/github"
	"github.com/livetriage/internal/guardrail"
	"github.com/livetriage/internal/orchestrator"
	"github.com/livetriage/internal/statestore"
)

// Outcome is the invocation-level result category. Exactly one holds
// per invocation.
type Outcome string

const (
	OutcomeAskQuestions    Outcome = "ask-questions"
	OutcomeFinalize        Outcome = "finalize"
	OutcomeEscalate        Outcome = "escalate"
	OutcomeAcknowledgeStop Outcome = "acknowledge-stop"
	OutcomeSilentlyDropped Outcome = "silently-dropped"
)

// Result is the typed return of one invocation. The orchestrator hands
// back the exact state, never an opaque object needing introspection.
type Result struct {
	Outcome Outcome
	State   *conversation.State
	Posted  bool
	Summary string
}

// Service orchestrates a single invocation.
type Service struct {
	botLogin string
	store    *statestore.Store
	tracker  *conversation.Tracker
	guard    *guardrail.Engine
	pipeline *orchestrator.Pipeline
	machine  *orchestrator.Machine
	composer *compose.Composer
	issues   github.IssueClient
	clock    func() time.Time
}

// NewService wires a service from its collaborators.
func NewService(
	botLogin string,
	store *statestore.Store,
	tracker *conversation.Tracker,
	guard *guardrail.Engine,
	pipeline *orchestrator.Pipeline,
	machine *orchestrator.Machine,
	composer *compose.Composer,
	issues github.IssueClient,
) *Service {
	return &Service{
		botLogin: botLogin,
		store:    store,
		tracker:  tracker,
		guard:    guard,
		pipeline: pipeline,
		machine:  machine,
		composer: composer,
		issues:   issues,
		clock:    time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// HandleEvent processes one inbound event. The only errors returned are
// event-source failures (listing or posting comments); everything else
// degrades to a well-formed outcome.
func (s *Service) HandleEvent(ctx context.Context, ev *github.Event) (*Result, error) {
	owner := ev.Repository.Owner.Login
	repo := ev.Repository.Name
	threadKey := conversation.ThreadKey(owner, repo, ev.Issue.Number)

	state, err := s.recoverState(ctx, owner, repo, ev.Issue.Number, threadKey)
	if err != nil {
		return nil, err
	}
	s.tracker.MigrateLegacy(state, ev.Issue.User.Login)

	sender := ev.Sender()
	if sender == s.botLogin {
		// Our own comment echoed back; never react to it.
		return &Result{Outcome: OutcomeSilentlyDropped, State: state}, nil
	}

	guardOut := s.guard.Evaluate(ctx, guardrail.Input{
		State:         state,
		Username:      sender,
		IsThreadOwner: sender == ev.Issue.User.Login,
		Text:          ev.NewText(),
		IsComment:     ev.IsComment(),
		ThreadTitle:   ev.Issue.Title,
	})

	switch guardOut.Decision {
	case guardrail.SilentDrop:
		// No response, no state write. Unauthorized senders must not
		// learn the bot exists.
		return &Result{Outcome: OutcomeSilentlyDropped, State: state}, nil

	case guardrail.AcknowledgeStop:
		visible := s.composer.StopAck(sender)
		if err := s.post(ctx, ev, state, visible); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeAcknowledgeStop, State: state, Posted: true}, nil

	case guardrail.ForceEscalate:
		return s.escalate(ctx, ev, state, guardOut.User)

	case guardrail.Regenerate:
		return s.regenerate(ctx, ev, state, guardOut.User)

	case guardrail.Proceed:
		return s.runLoop(ctx, ev, state, guardOut.User)
	}

	// Unreachable: Decision is a closed set.
	return nil, fmt.Errorf("unhandled guardrail decision %v", guardOut.Decision)
}

// runLoop executes the full pipeline pass for an authorized, open
// conversation.
func (s *Service) runLoop(ctx context.Context, ev *github.Event, state *conversation.State, uc *conversation.UserConversation) (*Result, error) {
	// One increment per invocation, before deciding, so the machine
	// sees the post-increment count.
	uc.LoopCount++

	exec := orchestrator.NewExecutionState(uc.LoopCount, s.machine.Bound())
	in := orchestrator.StageInput{
		ThreadTitle:    ev.Issue.Title,
		ThreadBody:     ev.Issue.Body,
		LatestText:     ev.NewText(),
		Category:       state.Category,
		SharedFindings: state.SharedFindings,
		CasePacket:     uc.CasePacket,
		AskedFields:    uc.AskedFields,
	}

	if state.Category == "" {
		cls := s.pipeline.Classify(ctx, in)
		state.Category = cls.Category
		in.Category = cls.Category
		exec.StageScores["classification"] = cls.Judgement.ScoreOverall
	}

	ev2 := s.pipeline.GatherEvidence(ctx, in)
	exec.StageScores["evidence"] = ev2.Judgement.ScoreOverall
	exec.InformationGathered = ev2.Findings
	exec.MissingInformation = ev2.MissingFields
	for _, finding := range ev2.Findings {
		state.AddFinding(conversation.SharedFinding{
			DiscoveredBy: uc.Username,
			Category:     state.Category,
			Content:      finding,
		})
	}
	if uc.CasePacket == nil {
		uc.CasePacket = make(map[string]string)
	}
	for field, value := range ev2.Packet {
		uc.CasePacket[field] = value
	}
	in.SharedFindings = state.SharedFindings
	in.CasePacket = uc.CasePacket

	suff := s.pipeline.AssessSufficiency(ctx, in)
	state.CompletenessScore = suff.Completeness

	action := s.machine.Decide(uc.LoopCount, suff.Sufficient, ev.NewText())
	exec.ActionTaken = action
	exec.IsUserExhausted = uc.LoopCount > s.machine.Bound()

	var visible string
	var outcome Outcome
	switch action {
	case orchestrator.ActionAskQuestions:
		draft := s.pipeline.Draft(ctx, in, ev2.MissingFields)
		exec.StageScores["draft"] = draft.Judgement.ScoreOverall
		for _, q := range draft.Questions {
			uc.MarkAsked(q.Field)
			exec.QuestionsAsked = append(exec.QuestionsAsked, q.Field)
		}
		if len(draft.Questions) == 0 {
			// Nothing new left to ask; treat the round as a finalize so
			// the user isn't sent an empty question list.
			visible = s.composer.FinalBrief(uc.Username, state.Category, draft.Draft)
			uc.Finalize(s.clock())
			outcome = OutcomeFinalize
		} else {
			visible = s.composer.Questions(uc.Username, draft.Questions, uc.LoopCount, s.machine.Bound())
			outcome = OutcomeAskQuestions
		}

	case orchestrator.ActionFinalize:
		draft := s.pipeline.Draft(ctx, in, nil)
		exec.StageScores["draft"] = draft.Judgement.ScoreOverall
		visible = s.composer.FinalBrief(uc.Username, state.Category, draft.Draft)
		uc.Finalize(s.clock())
		outcome = OutcomeFinalize

	case orchestrator.ActionEscalate:
		uc.IsExhausted = true
		visible = s.composer.Escalation(uc.Username, state.Category, state.SharedFindings)
		outcome = OutcomeEscalate
	}

	log.Info().Str("outcome", string(outcome)).Msg(exec.Summary())

	if err := s.post(ctx, ev, state, visible); err != nil {
		return nil, err
	}
	return &Result{Outcome: outcome, State: state, Posted: true, Summary: exec.Summary()}, nil
}

// escalate handles the guardrail's forced hand-off when a user's loop
// budget is already spent.
func (s *Service) escalate(ctx context.Context, ev *github.Event, state *conversation.State, uc *conversation.UserConversation) (*Result, error) {
	uc.LoopCount++
	uc.IsExhausted = true
	visible := s.composer.Escalation(uc.Username, state.Category, state.SharedFindings)
	if err := s.post(ctx, ev, state, visible); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeEscalate, State: state, Posted: true}, nil
}

// regenerate re-runs only the drafting stage for a finalized user who
// disagreed with the conclusion. Loop count stays untouched.
func (s *Service) regenerate(ctx context.Context, ev *github.Event, state *conversation.State, uc *conversation.UserConversation) (*Result, error) {
	in := orchestrator.StageInput{
		ThreadTitle:    ev.Issue.Title,
		ThreadBody:     ev.Issue.Body,
		LatestText:     ev.NewText(),
		Category:       state.Category,
		SharedFindings: state.SharedFindings,
		CasePacket:     uc.CasePacket,
		AskedFields:    uc.AskedFields,
	}
	draft := s.pipeline.Draft(ctx, in, nil)
	visible := s.composer.FinalBrief(uc.Username, state.Category, draft.Draft)
	if err := s.post(ctx, ev, state, visible); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeFinalize, State: state, Posted: true}, nil
}

// recoverState rebuilds conversation state from the most recent valid
// marker among the bot's own comments. A corrupt or missing marker
// yields a fresh state; recovery never fails the run.
func (s *Service) recoverState(ctx context.Context, owner, repo string, number int, threadKey string) (*conversation.State, error) {
	comments, err := s.issues.ListComments(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}

	for i := len(comments) - 1; i >= 0; i-- {
		if comments[i].Author != s.botLogin {
			continue
		}
		if state := s.store.Extract(comments[i].Body); state != nil {
			log.Debug().Str("thread", threadKey).Msg("state recovered from marker")
			return state, nil
		}
	}
	log.Debug().Str("thread", threadKey).Msg("no usable state marker, starting fresh")
	return conversation.NewState(threadKey), nil
}

// post renders the final comment body with the embedded state marker
// and appends it to the thread.
func (s *Service) post(ctx context.Context, ev *github.Event, state *conversation.State, visible string) error {
	state.LastUpdated = s.clock()
	body, err := s.composer.WithState(visible, state)
	if err != nil {
		return fmt.Errorf("embed state: %w", err)
	}
	return s.issues.CreateComment(ctx, ev.Repository.Owner.Login, ev.Repository.Name, ev.Issue.Number, body)
}
