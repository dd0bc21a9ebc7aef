package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/livetriage/internal/conversation"
	"github.com/livetriage/internal/critique"
	"github.com/livetriage/internal/llm"
)

// DefaultCategories is the allowed classification set.
var DefaultCategories = []string{"bug", "docs", "question", "feature-request", "configuration"}

// DefaultFields are the case-packet fields the bot may ask about, in
// preference order. Questions are keyed by field so a field asked of a
// user is never asked again.
var DefaultFields = []string{
	"reproduction_steps",
	"expected_behavior",
	"actual_behavior",
	"version",
	"environment",
	"logs",
}

var fieldQuestions = map[string]string{
	"reproduction_steps": "What are the exact steps to reproduce the problem?",
	"expected_behavior":  "What did you expect to happen?",
	"actual_behavior":    "What actually happened, including any error messages?",
	"version":            "Which version are you running?",
	"environment":        "What OS and environment are you running in?",
	"logs":               "Can you share relevant logs or output?",
}

// StageInput is the immutable input handed to every stage. Stages never
// share a mutable context object; each returns a delta the orchestrator
// composes.
type StageInput struct {
	ThreadTitle    string
	ThreadBody     string
	LatestText     string
	Category       string
	SharedFindings []conversation.SharedFinding
	CasePacket     map[string]string
	AskedFields    []string
}

// ClassificationDelta is the classify stage result.
type ClassificationDelta struct {
	Category   string
	Confidence float64
	Judgement  critique.Judgement
}

// EvidenceDelta is the evidence-gathering stage result.
type EvidenceDelta struct {
	Findings      []string
	MissingFields []string
	// Packet holds case-packet field values extracted from the user's
	// latest text, keyed by field name.
	Packet    map[string]string
	Judgement critique.Judgement
}

// Question pairs an asked field with its rendered text.
type Question struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// DraftDelta is the drafting stage result.
type DraftDelta struct {
	Draft     string
	Questions []Question
	Judgement critique.Judgement
}

// Pipeline runs the three stages, each wrapped by the quality gate.
// Every LLM call is bounded by the resilient client's timeout and has a
// deterministic degraded fallback, so the pipeline always yields some
// output.
type Pipeline struct {
	client llm.Client
	gate   *critique.Gate
}

// NewPipeline wires the pipeline.
func NewPipeline(client llm.Client, gate *critique.Gate) *Pipeline {
	return &Pipeline{client: client, gate: gate}
}

// Classify assigns a category to the thread.
func (p *Pipeline) Classify(ctx context.Context, in StageInput) ClassificationDelta {
	prompt := fmt.Sprintf(classifyPrompt,
		strings.Join(DefaultCategories, ", "), in.ThreadTitle, in.ThreadBody, in.LatestText)

	var resp struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := p.client.GenerateStructured(ctx, prompt, &resp); err != nil {
		log.Warn().Err(err).Msg("classification call failed, degrading to unknown category")
		resp.Category, resp.Confidence = "", 0
	}

	out, j := p.gate.Apply(ctx, critique.Output{
		Stage:      critique.StageClassification,
		Category:   resp.Category,
		Confidence: resp.Confidence,
	})
	return ClassificationDelta{Category: out.Category, Confidence: out.Confidence, Judgement: j}
}

// GatherEvidence extracts findings from the user's text and names the
// case-packet fields still missing.
func (p *Pipeline) GatherEvidence(ctx context.Context, in StageInput) EvidenceDelta {
	prompt := fmt.Sprintf(evidencePrompt,
		in.Category, in.ThreadTitle, in.ThreadBody, in.LatestText,
		renderFindings(in.SharedFindings), renderPacket(in.CasePacket),
		strings.Join(DefaultFields, ", "))

	var resp struct {
		Findings []string          `json:"findings"`
		Missing  []string          `json:"missing_fields"`
		Packet   map[string]string `json:"fields"`
	}
	if err := p.client.GenerateStructured(ctx, prompt, &resp); err != nil {
		log.Warn().Err(err).Msg("evidence call failed, degrading to default missing fields")
		resp.Findings = nil
		resp.Missing = missingFromPacket(in.CasePacket)
		resp.Packet = nil
	}
	resp.Missing = filterKnownFields(resp.Missing)
	packet := make(map[string]string)
	for field, value := range resp.Packet {
		if _, known := fieldQuestions[field]; known && value != "" {
			packet[field] = value
		}
	}

	out, j := p.gate.Apply(ctx, critique.Output{
		Stage:    critique.StageEvidence,
		Category: in.Category,
		Evidence: resp.Findings,
	})
	return EvidenceDelta{Findings: out.Evidence, MissingFields: resp.Missing, Packet: packet, Judgement: j}
}

// Draft produces the response draft plus up to three questions for
// fields not yet asked of this user.
func (p *Pipeline) Draft(ctx context.Context, in StageInput, missing []string) DraftDelta {
	asked := make(map[string]bool, len(in.AskedFields))
	for _, f := range in.AskedFields {
		asked[f] = true
	}

	questions := make([]Question, 0, 3)
	for _, field := range missing {
		if asked[field] {
			continue
		}
		if text, ok := fieldQuestions[field]; ok {
			questions = append(questions, Question{Field: field, Text: text})
		}
		if len(questions) == 3 {
			break
		}
	}

	prompt := fmt.Sprintf(draftPrompt,
		in.Category, in.ThreadTitle, in.ThreadBody, in.LatestText,
		renderFindings(in.SharedFindings), renderQuestions(questions))

	var resp struct {
		Draft string `json:"draft"`
	}
	if err := p.client.GenerateStructured(ctx, prompt, &resp); err != nil {
		log.Warn().Err(err).Msg("draft call failed, degrading to template draft")
		resp.Draft = templateDraft(in.Category, questions)
	}

	evidence := make([]string, 0, len(in.SharedFindings))
	for _, f := range in.SharedFindings {
		evidence = append(evidence, f.Content)
	}
	out, j := p.gate.Apply(ctx, critique.Output{
		Stage:     critique.StageDraft,
		Category:  in.Category,
		Evidence:  evidence,
		Draft:     resp.Draft,
		Questions: questionTexts(questions),
	})
	if strings.TrimSpace(out.Draft) == "" {
		out.Draft = templateDraft(in.Category, questions)
	}
	return DraftDelta{Draft: out.Draft, Questions: questions, Judgement: j}
}

// SufficiencyResult is the outcome of the information-sufficiency
// judgement.
type SufficiencyResult struct {
	Sufficient   bool
	Completeness int // 0-100
}

// AssessSufficiency judges whether enough information exists to finalize
// without further questions. Failures degrade to insufficient, the
// conservative choice: one more question beats a premature conclusion.
func (p *Pipeline) AssessSufficiency(ctx context.Context, in StageInput) SufficiencyResult {
	prompt := fmt.Sprintf(sufficiencyPrompt,
		in.Category, in.ThreadTitle, in.ThreadBody, in.LatestText,
		renderFindings(in.SharedFindings), renderPacket(in.CasePacket))

	var resp struct {
		Sufficient   bool `json:"sufficient"`
		Completeness int  `json:"completeness"`
	}
	if err := p.client.GenerateStructured(ctx, prompt, &resp); err != nil {
		log.Warn().Err(err).Msg("sufficiency call failed, degrading to insufficient")
		return SufficiencyResult{Sufficient: false, Completeness: 0}
	}
	if resp.Completeness < 0 {
		resp.Completeness = 0
	}
	if resp.Completeness > 100 {
		resp.Completeness = 100
	}
	return SufficiencyResult{Sufficient: resp.Sufficient, Completeness: resp.Completeness}
}

func missingFromPacket(packet map[string]string) []string {
	var missing []string
	for _, f := range DefaultFields {
		if packet[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

func filterKnownFields(fields []string) []string {
	var out []string
	for _, f := range fields {
		if _, ok := fieldQuestions[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func questionTexts(qs []Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Text)
	}
	return out
}

func renderFindings(findings []conversation.SharedFinding) string {
	if len(findings) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s, via %s] %s\n", f.Category, f.DiscoveredBy, f.Content)
	}
	return b.String()
}

func renderPacket(packet map[string]string) string {
	if len(packet) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, f := range DefaultFields {
		if v := packet[f]; v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", f, v)
		}
	}
	return b.String()
}

func renderQuestions(qs []Question) string {
	if len(qs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, q := range qs {
		fmt.Fprintf(&b, "- %s\n", q.Text)
	}
	return b.String()
}

func templateDraft(category string, questions []Question) string {
	var b strings.Builder
	if category != "" {
		fmt.Fprintf(&b, "Thanks for the report. This looks like a %s issue.\n\n", category)
	} else {
		b.WriteString("Thanks for the report. We need a bit more detail to triage this.\n\n")
	}
	if len(questions) > 0 {
		b.WriteString("To move forward, could you answer the following:\n")
		for _, q := range questions {
			fmt.Fprintf(&b, "- %s\n", q.Text)
		}
	}
	return b.String()
}

const classifyPrompt = `Classify this support issue into exactly one category from: %s.

Title: %s
Body:
%s

Latest message:
%s

Respond with JSON only: {"category": "...", "confidence": <0-1>}`

const evidencePrompt = `You are gathering evidence for a %s issue.

Title: %s
Body:
%s

Latest message:
%s

Findings so far:
%s
Case packet so far:
%s

List new concrete findings from the latest message, extract any values
for these case-packet fields, and say which are still missing: %s.

Respond with JSON only:
{"findings": [...], "fields": {"<field>": "<value>"}, "missing_fields": [...]}`

const draftPrompt = `Draft a short, friendly triage response for a %s issue.

Title: %s
Body:
%s

Latest message:
%s

Findings:
%s
Questions that will be appended after your draft:
%s

Do not repeat the questions inside the draft. Respond with JSON only:
{"draft": "..."}`

const sufficiencyPrompt = `Judge whether enough information exists to resolve a %s issue
without asking more questions.

Title: %s
Body:
%s

Latest message:
%s

Findings:
%s
Case packet:
%s

Respond with JSON only: {"sufficient": true/false, "completeness": <0-100>}`
