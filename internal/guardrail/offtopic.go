package guardrail

import (
	"context"
	"fmt"

	"github.com/livetriage/internal/llm"
)

// LLMOffTopicJudge scores off-topic confidence with a text-completion
// call.
type LLMOffTopicJudge struct {
	client llm.Client
}

// NewLLMOffTopicJudge wraps a client as an OffTopicJudge.
func NewLLMOffTopicJudge(client llm.Client) *LLMOffTopicJudge {
	return &LLMOffTopicJudge{client: client}
}

// Confidence implements OffTopicJudge. Errors propagate so the engine
// can skip the strike check instead of acting on a guess.
func (j *LLMOffTopicJudge) Confidence(ctx context.Context, threadTitle, text string) (float64, error) {
	prompt := fmt.Sprintf(offTopicPrompt, threadTitle, text)

	var resp struct {
		Confidence float64 `json:"confidence"`
	}
	if err := j.client.GenerateStructured(ctx, prompt, &resp); err != nil {
		return 0, fmt.Errorf("off-topic judgement: %w", err)
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	return resp.Confidence, nil
}

const offTopicPrompt = `An issue thread is titled: %s

A new comment says:
%s

How confident are you that the comment is unrelated to the thread's
topic? Respond with JSON only: {"confidence": <0-1>}`
