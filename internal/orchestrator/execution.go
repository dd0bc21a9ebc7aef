package orchestrator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ExecutionState captures what actually happened during one invocation.
// It exists to produce an honest run summary and is discarded after the
// response is composed; everything durable lands in the conversation
// state instead.
type ExecutionState struct {
	RunID               string
	LoopNumber          int
	TotalUserLoops      int
	QuestionsAsked      []string
	InformationGathered []string
	MissingInformation  []string
	StageScores         map[string]float64
	ActionTaken         Action
	IsUserExhausted     bool
}

// NewExecutionState starts tracking a fresh invocation.
func NewExecutionState(loopNumber, totalUserLoops int) *ExecutionState {
	return &ExecutionState{
		RunID:          uuid.NewString(),
		LoopNumber:     loopNumber,
		TotalUserLoops: totalUserLoops,
		StageScores:    make(map[string]float64),
	}
}

// Summary renders a short factual account of the run. It reports only
// what was recorded; nothing is inferred or embellished.
func (e *ExecutionState) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: loop %d/%d, action %s",
		e.RunID, e.LoopNumber, e.TotalUserLoops, e.ActionTaken)
	if e.IsUserExhausted {
		b.WriteString(", user exhausted")
	}
	if len(e.QuestionsAsked) > 0 {
		fmt.Fprintf(&b, ", asked %d question(s)", len(e.QuestionsAsked))
	}
	if len(e.InformationGathered) > 0 {
		fmt.Fprintf(&b, ", gathered %d finding(s)", len(e.InformationGathered))
	}
	if len(e.MissingInformation) > 0 {
		fmt.Fprintf(&b, ", still missing: %s", strings.Join(e.MissingInformation, ", "))
	}
	return b.String()
}
