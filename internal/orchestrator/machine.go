// Package orchestrator drives the per-user decision loop: classify the
// problem, gather evidence, draft a response, then pick exactly one of
// ask-questions, finalize, or escalate. The loop is bounded so every
// conversation terminates.
package orchestrator

import "strings"

// Action is the closed set of terminal decisions for one invocation.
type Action int

const (
	ActionAskQuestions Action = iota
	ActionFinalize
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionAskQuestions:
		return "ask-questions"
	case ActionFinalize:
		return "finalize"
	case ActionEscalate:
		return "escalate"
	}
	return "unknown"
}

// LoopState is where a user sits in their question budget.
type LoopState int

const (
	Loop1 LoopState = iota + 1
	Loop2
	Loop3
	Exhausted
)

func (s LoopState) String() string {
	switch s {
	case Loop1:
		return "LOOP_1"
	case Loop2:
		return "LOOP_2"
	case Loop3:
		return "LOOP_3"
	case Exhausted:
		return "EXHAUSTED"
	}
	return "unknown"
}

// Machine converts loop position plus sufficiency and self-resolution
// signals into the single action for this invocation.
type Machine struct {
	bound        int
	selfResolved func(text string) bool
}

// NewMachine creates a machine with the given loop bound (<=0 selects
// the default of 3) and self-resolution predicate (nil selects the
// default phrase heuristic).
func NewMachine(bound int, selfResolved func(string) bool) *Machine {
	if bound <= 0 {
		bound = 3
	}
	if selfResolved == nil {
		selfResolved = SelfResolutionHeuristic
	}
	return &Machine{bound: bound, selfResolved: selfResolved}
}

// Bound returns the configured loop bound.
func (m *Machine) Bound() int { return m.bound }

// LoopStateFor maps a post-increment loop count onto a loop state.
func (m *Machine) LoopStateFor(loopCount int) LoopState {
	switch {
	case loopCount > m.bound:
		return Exhausted
	case loopCount >= 3:
		return Loop3
	case loopCount == 2:
		return Loop2
	default:
		return Loop1
	}
}

// Decide picks the action for this invocation. loopCount is the value
// AFTER this invocation's increment. Exactly one action is returned;
// there are no flags to reset because nothing here is stateful.
//
// Past the bound the answer is always escalate, independent of
// sufficiency: that is the termination guarantee. At the bound with
// insufficient information the user still gets a final question round;
// insufficiency alone never escalates.
func (m *Machine) Decide(loopCount int, sufficient bool, latestText string) Action {
	if loopCount > m.bound {
		return ActionEscalate
	}
	if m.selfResolved(latestText) || sufficient {
		return ActionFinalize
	}
	return ActionAskQuestions
}

// SelfResolutionHeuristic detects that the user already found or applied
// a fix, short-circuiting further questioning. Like the disagreement
// heuristic, the phrase list is replaceable policy.
func SelfResolutionHeuristic(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range []string{
		"fixed it",
		"i fixed",
		"fixed the",
		"issue resolved",
		"it's resolved",
		"resolved it",
		"solved it",
		"found the problem",
		"found the issue",
		"works now",
		"working now",
		"never mind",
		"nevermind",
		"nvm",
		"my mistake",
		"user error",
		"false alarm",
	} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
