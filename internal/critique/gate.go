// Package critique implements the quality gate each pipeline stage must
// pass before its output is trusted downstream. Scoring blends a
// deterministic rubric, which is always computed, with an optional
// LLM-judged assessment. A stage that scores under its threshold is
// refined exactly once and the refined output accepted unconditionally,
// so the gate can never stall the loop.
package critique

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/livetriage/internal/llm"
)

// Stage identifies which pipeline stage an output came from.
type Stage int

const (
	StageClassification Stage = iota
	StageEvidence
	StageDraft
)

func (s Stage) String() string {
	switch s {
	case StageClassification:
		return "classification"
	case StageEvidence:
		return "evidence"
	case StageDraft:
		return "draft"
	}
	return "unknown"
}

// Output is the stage-neutral shape the gate scores. A stage fills only
// the fields it produces.
type Output struct {
	Stage      Stage    `json:"stage"`
	Category   string   `json:"category,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Questions  []string `json:"questions,omitempty"`
	Draft      string   `json:"draft,omitempty"`
}

// Judgement is a scored assessment of one stage output. It is produced
// fresh on every evaluation and never persisted.
type Judgement struct {
	ScoreOverall    float64            `json:"score_overall"`
	Subscores       map[string]float64 `json:"subscores"`
	Issues          []string           `json:"issues,omitempty"`
	FixSuggestions  []string           `json:"fix_suggestions,omitempty"`
	PassedThreshold bool               `json:"passed_threshold"`
}

// Thresholds holds the per-stage pass marks on the 0-10 scale.
type Thresholds struct {
	Classification float64 `json:"classification"`
	Evidence       float64 `json:"evidence"`
	Draft          float64 `json:"draft"`
}

// DefaultThresholds returns the standard pass marks.
func DefaultThresholds() Thresholds {
	return Thresholds{Classification: 6, Evidence: 5, Draft: 7}
}

func (t Thresholds) forStage(s Stage) float64 {
	switch s {
	case StageClassification:
		return t.Classification
	case StageEvidence:
		return t.Evidence
	case StageDraft:
		return t.Draft
	}
	return 5
}

// Gate evaluates and refines stage outputs. judge may be nil, in which
// case only the deterministic rubric contributes.
type Gate struct {
	judge             llm.Client
	thresholds        Thresholds
	allowedCategories []string
}

// New creates a gate. allowedCategories feeds the classification rubric.
func New(judge llm.Client, thresholds Thresholds, allowedCategories []string) *Gate {
	return &Gate{judge: judge, thresholds: thresholds, allowedCategories: allowedCategories}
}

// Evaluate scores output against its stage rubric plus the optional
// judged assessment. Judge failures degrade to the deterministic score
// with a flagged issue; they never propagate.
func (g *Gate) Evaluate(ctx context.Context, out Output) Judgement {
	j := g.deterministic(out)

	if g.judge != nil {
		judged, err := g.judgedScore(ctx, out)
		if err != nil {
			log.Warn().Err(err).Str("stage", out.Stage.String()).
				Msg("judged assessment failed, using rubric score only")
			j.Issues = append(j.Issues, "judged assessment unavailable, rubric score only")
			j.FixSuggestions = append(j.FixSuggestions, "retry")
		} else {
			j.Subscores["judged"] = judged.ScoreOverall
			j.ScoreOverall = (j.ScoreOverall + judged.ScoreOverall) / 2
			j.Issues = append(j.Issues, judged.Issues...)
			j.FixSuggestions = append(j.FixSuggestions, judged.FixSuggestions...)
		}
	}

	j.PassedThreshold = j.ScoreOverall >= g.thresholds.forStage(out.Stage)
	log.Debug().Str("stage", out.Stage.String()).
		Float64("score", j.ScoreOverall).Bool("passed", j.PassedThreshold).
		Msg("stage output evaluated")
	return j
}

// RefineOnce asks the judge to rework output using the judgement's
// issues and suggestions. Exactly one refinement is attempted and its
// result accepted unconditionally; on any failure the original output
// is returned so the pipeline always moves forward.
func (g *Gate) RefineOnce(ctx context.Context, out Output, j Judgement) Output {
	if g.judge == nil {
		return out
	}

	serialized, err := json.Marshal(out)
	if err != nil {
		return out
	}
	prompt := fmt.Sprintf(refinePromptTemplate, out.Stage, serialized,
		joinLines(j.Issues), joinLines(j.FixSuggestions))

	var refined Output
	if err := g.judge.GenerateStructured(ctx, prompt, &refined); err != nil {
		log.Warn().Err(err).Str("stage", out.Stage.String()).
			Msg("refinement failed, keeping original output")
		return out
	}
	refined.Stage = out.Stage
	log.Debug().Str("stage", out.Stage.String()).Msg("stage output refined once")
	return refined
}

// Apply runs the full gate: evaluate, refine once if below threshold,
// return the accepted output plus the (pre-refinement) judgement.
func (g *Gate) Apply(ctx context.Context, out Output) (Output, Judgement) {
	j := g.Evaluate(ctx, out)
	if j.PassedThreshold {
		return out, j
	}
	return g.RefineOnce(ctx, out, j), j
}

// judgedScore runs the optional LLM assessment of a stage output.
func (g *Gate) judgedScore(ctx context.Context, out Output) (Judgement, error) {
	serialized, err := json.Marshal(out)
	if err != nil {
		return Judgement{}, err
	}
	prompt := fmt.Sprintf(judgePromptTemplate, out.Stage, serialized)

	var resp struct {
		Score       float64  `json:"score"`
		Issues      []string `json:"issues"`
		Suggestions []string `json:"suggestions"`
	}
	if err := g.judge.GenerateStructured(ctx, prompt, &resp); err != nil {
		return Judgement{}, err
	}
	if resp.Score < 0 {
		resp.Score = 0
	}
	if resp.Score > 10 {
		resp.Score = 10
	}
	return Judgement{
		ScoreOverall:   resp.Score,
		Issues:         resp.Issues,
		FixSuggestions: resp.Suggestions,
	}, nil
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += "- " + l + "\n"
	}
	return out
}

const judgePromptTemplate = `You are reviewing the %s stage output of an issue triage pipeline.
Score it from 0 to 10 for accuracy, specificity, and usefulness.

Output under review:
%s

Respond with JSON only: {"score": <0-10>, "issues": [...], "suggestions": [...]}`

const refinePromptTemplate = `Rework the %s stage output of an issue triage pipeline.

Current output:
%s

Known issues:
%s
Suggested fixes:
%s

Respond with JSON only, using the same shape as the current output.`
