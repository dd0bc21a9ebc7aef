package critique

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock judge client for testing
type mockJudge struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (m *mockJudge) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "{}", nil
}

func (m *mockJudge) GenerateStructured(ctx context.Context, prompt string, target any) error {
	raw, err := m.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), target)
}

var testCategories = []string{"bug", "docs", "question"}

func TestDeterministicClassificationRubric(t *testing.T) {
	gate := New(nil, DefaultThresholds(), testCategories)

	good := gate.Evaluate(context.Background(), Output{
		Stage: StageClassification, Category: "bug", Confidence: 0.9,
	})
	assert.Equal(t, 10.0, good.ScoreOverall)
	assert.True(t, good.PassedThreshold)

	empty := gate.Evaluate(context.Background(), Output{Stage: StageClassification})
	assert.Equal(t, 0.0, empty.ScoreOverall)
	assert.False(t, empty.PassedThreshold)
	assert.NotEmpty(t, empty.Issues)

	unknown := gate.Evaluate(context.Background(), Output{
		Stage: StageClassification, Category: "weather", Confidence: 0.9,
	})
	assert.Equal(t, 7.0, unknown.ScoreOverall)
	assert.Contains(t, unknown.Issues, "category not in the allowed set")
}

func TestDeterministicEvidenceRubric(t *testing.T) {
	gate := New(nil, DefaultThresholds(), testCategories)

	good := gate.Evaluate(context.Background(), Output{
		Stage:    StageEvidence,
		Evidence: []string{"crash happens only on v2.1", "log shows nil dereference"},
	})
	assert.Equal(t, 10.0, good.ScoreOverall)
	assert.True(t, good.PassedThreshold)

	none := gate.Evaluate(context.Background(), Output{Stage: StageEvidence})
	assert.False(t, none.PassedThreshold)
	assert.Contains(t, none.Issues, "no evidence gathered")

	dup := gate.Evaluate(context.Background(), Output{
		Stage:    StageEvidence,
		Evidence: []string{"crash happens only on v2.1", "Crash happens only on v2.1"},
	})
	assert.Contains(t, dup.Issues, "duplicate evidence entries")
}

func TestDeterministicDraftRubric(t *testing.T) {
	gate := New(nil, DefaultThresholds(), testCategories)

	good := gate.Evaluate(context.Background(), Output{
		Stage:    StageDraft,
		Category: "bug",
		Evidence: []string{"nil dereference in parser"},
		Draft:    "This looks like a bug: the nil dereference in parser explains the crash you reported. A fix is queued for the next patch release.",
	})
	assert.Equal(t, 10.0, good.ScoreOverall)
	assert.True(t, good.PassedThreshold)

	empty := gate.Evaluate(context.Background(), Output{Stage: StageDraft})
	assert.False(t, empty.PassedThreshold)
	assert.Contains(t, empty.Issues, "draft is empty")
}

func TestJudgedScoreBlended(t *testing.T) {
	judge := &mockJudge{responses: []string{`{"score": 4, "issues": ["too vague"], "suggestions": ["be specific"]}`}}
	gate := New(judge, DefaultThresholds(), testCategories)

	j := gate.Evaluate(context.Background(), Output{
		Stage: StageClassification, Category: "bug", Confidence: 0.9,
	})
	// Deterministic 10 blended with judged 4.
	assert.Equal(t, 7.0, j.ScoreOverall)
	assert.Equal(t, 4.0, j.Subscores["judged"])
	assert.Contains(t, j.Issues, "too vague")
}

func TestJudgeFailureFallsBackToRubric(t *testing.T) {
	judge := &mockJudge{errs: []error{errors.New("model unavailable")}}
	gate := New(judge, DefaultThresholds(), testCategories)

	j := gate.Evaluate(context.Background(), Output{
		Stage: StageClassification, Category: "bug", Confidence: 0.9,
	})
	assert.Equal(t, 10.0, j.ScoreOverall, "rubric alone must carry the score")
	assert.True(t, j.PassedThreshold)
	assert.Contains(t, j.Issues, "judged assessment unavailable, rubric score only")
	assert.Contains(t, j.FixSuggestions, "retry")
}

func TestRefineOnceUsesJudgement(t *testing.T) {
	refined := Output{Stage: StageDraft, Category: "bug", Draft: "a much better draft"}
	raw, err := json.Marshal(refined)
	require.NoError(t, err)
	judge := &mockJudge{responses: []string{string(raw)}}
	gate := New(judge, DefaultThresholds(), testCategories)

	out := gate.RefineOnce(context.Background(), Output{Stage: StageDraft, Draft: "meh"},
		Judgement{Issues: []string{"too short"}, FixSuggestions: []string{"expand"}})
	assert.Equal(t, "a much better draft", out.Draft)
	assert.Equal(t, StageDraft, out.Stage)
	require.Len(t, judge.prompts, 1)
	assert.Contains(t, judge.prompts[0], "too short")
}

func TestRefineOnceFailureKeepsOriginal(t *testing.T) {
	judge := &mockJudge{errs: []error{errors.New("model unavailable")}}
	gate := New(judge, DefaultThresholds(), testCategories)

	original := Output{Stage: StageDraft, Draft: "keep me"}
	out := gate.RefineOnce(context.Background(), original, Judgement{})
	assert.Equal(t, original, out)
}

func TestApplyRefinesExactlyOnceWhenBelowThreshold(t *testing.T) {
	// First call: judged assessment of the failing output. Second call:
	// refinement. No third call may happen even if the refined output
	// would still score low.
	refined := Output{Stage: StageDraft, Draft: "still weak"}
	raw, _ := json.Marshal(refined)
	judge := &mockJudge{responses: []string{`{"score": 0}`, string(raw)}}
	gate := New(judge, DefaultThresholds(), testCategories)

	out, j := gate.Apply(context.Background(), Output{Stage: StageDraft, Draft: ""})
	assert.False(t, j.PassedThreshold)
	assert.Equal(t, "still weak", out.Draft)
	assert.Equal(t, 2, judge.calls, "exactly one evaluation and one refinement")
}

func TestApplyPassesThroughAboveThreshold(t *testing.T) {
	gate := New(nil, DefaultThresholds(), testCategories)

	in := Output{Stage: StageEvidence, Evidence: []string{"a reproducible crash trace"}}
	out, j := gate.Apply(context.Background(), in)
	assert.True(t, j.PassedThreshold)
	assert.Equal(t, in, out)
}
