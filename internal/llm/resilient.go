package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/livetriage/internal/retry"
)

// ResilientClient wraps a Client with retry, per-call timeout, and
// structured logging. Every pipeline stage goes through this wrapper so
// that a flaky provider degrades into a stage fallback instead of an
// aborted invocation.
type ResilientClient struct {
	client      Client
	retryConfig retry.Config
	timeout     time.Duration
}

// NewResilientClient wraps client. A timeout <= 0 means calls are
// bounded only by the caller's context.
func NewResilientClient(client Client, cfg retry.Config, timeout time.Duration) *ResilientClient {
	return &ResilientClient{client: client, retryConfig: cfg, timeout: timeout}
}

// NewResilientClientWithDefaults wraps client with the LLM-tuned retry
// configuration and a 60s per-call timeout.
func NewResilientClientWithDefaults(client Client) *ResilientClient {
	return NewResilientClient(client, retry.LLMConfig(), 60*time.Second)
}

// Generate implements Client with retries and timeout.
func (rc *ResilientClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := rc.bound(ctx)
	defer cancel()

	var out string
	result := retry.Do(ctx, rc.retryConfig, func() (error, string) {
		resp, err := rc.client.Generate(ctx, prompt)
		if err != nil {
			if retry.Retryable(err) {
				return err, err.Error()
			}
			return err, "non_retryable"
		}
		out = resp
		return nil, ""
	})
	if !result.Success {
		rc.logFailure("generate", result)
		return "", result.LastError
	}
	return out, nil
}

// GenerateStructured implements Client with retries, timeout, and JSON
// repair of the completion before unmarshaling.
func (rc *ResilientClient) GenerateStructured(ctx context.Context, prompt string, target any) error {
	ctx, cancel := rc.bound(ctx)
	defer cancel()

	result := retry.Do(ctx, rc.retryConfig, func() (error, string) {
		raw, err := rc.client.Generate(ctx, prompt)
		if err != nil {
			if retry.Retryable(err) {
				return err, err.Error()
			}
			return err, "non_retryable"
		}
		if _, perr := ParseJSON(raw, target); perr != nil {
			// A fresh completion often parses when the previous one was
			// truncated, so parse failures count as retryable.
			return perr, "json_parse_failed"
		}
		return nil, ""
	})
	if !result.Success {
		rc.logFailure("generate_structured", result)
		return result.LastError
	}
	return nil
}

func (rc *ResilientClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if rc.timeout > 0 {
		return context.WithTimeout(ctx, rc.timeout)
	}
	return ctx, func() {}
}

func (rc *ResilientClient) logFailure(op string, result retry.Result) {
	log.Warn().
		Str("op", op).
		Int("attempts", result.Attempts).
		Strs("reasons", result.RetryReasons).
		Dur("total", result.TotalDuration).
		Err(result.LastError).
		Msg("llm call failed after retries")
}
